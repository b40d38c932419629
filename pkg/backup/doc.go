// Package backup stores immutable backups of retired resources on the local
// filesystem or on a remote host over SFTP.
//
// A backup is staged first and committed with a single rename, so a reader
// never observes a partially written backup as complete.
package backup
