// Package liveness detects connections that vanished without a clean close.
//
// A network partition or a tab killed by the OS can leave a socket open on the
// server until the TCP stack gives up, and with it any lock or typing
// indicator the user held. The tracker is touched on every frame received from
// a connection (including pongs and heartbeat messages); a connection silent
// for longer than the configured idle timeout is handed to onExpire, which
// runs the normal disconnect cleanup.
package liveness
