// Package echo defines the testgenl service: its commands, its attributes as a
// closed set of typed values, and the frame helpers both sides use to build and
// read ECHO and NOTIFY messages.
package echo
