// Package distribute implements the imgcast command: it loads settings,
// resolves the target group, discovers the images and runs the broadcast session.
package distribute
