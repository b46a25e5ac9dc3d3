// Package sender runs the local broadcast sender for one job.
package sender
