// Package splat defines the Gaussian-splat primitive population and
// the camera and image types shared by the trainer, renderer, and
// export codecs.
//
// A population is stored as parallel flat arrays rather than
// per-primitive records so that the optimizer and the density
// controller can operate on whole parameter groups at once.
package splat
