// Package artifacts reads and writes objects addressed by URL: command logs
// linked from deployment commands and the cookbook archives uploaded by the
// cookbook commands.
//
// A Router dispatches on the URL scheme:
//
//	file://          local filesystem (FileStore)
//	sftp://          remote host over SSH (SFTPStore)
//	http://, https:// read-only (HTTPStore)
//
// Every failure is an *Error carrying the operation, the URL and whether the
// failure was temporary, an authentication failure or a missing object.
package artifacts
