// Package pipeline is the composition root for the classification path.
//
// It wires the camera bus ingest through the signal synchronizer, frame
// builder, binarizer, inference engine, and decision mapper, and owns the
// engine tick loop. The pipeline carries no domain logic of its own: it
// delegates to the stage packages, and none of them import pipeline.
package pipeline
