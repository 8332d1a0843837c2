// Package store defines persistence interfaces shared by the storage
// backends: blob objects for checkpoints and session state, and download run
// progress. Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
