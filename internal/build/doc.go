// Package build provides the rebuild pipeline shared by one-shot builds and the
// daemon: load fragments, resolve variables, merge, write the target.
//
// Every run is a full, stateless recomputation from the current directory
// contents and the configuration passed in the request.
package build
