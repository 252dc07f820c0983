// Package deployer ships a build to every server of an environment.
//
// Deploy packages the build output once, then runs the same strictly ordered
// sequence on each server: connect, verify the container runtime, upload and
// extract the archive, verify the descriptor, remove the previous container
// and image, build, run, and check the new container. Servers deploy
// concurrently and independently; one failing server never changes another's
// outcome. Sessions are closed per server and the local archive is removed
// after every server has finished, on every exit path.
package deployer
