// Package status exposes session progress through the standard gRPC health service.
//
// Service "imgcast" is SERVING until a job fails. Service "imgcast.transfer"
// is SERVING while a job is in progress.
package status
