// Package websocket ties WebSocket connections to session lifetimes.
//
// Handler upgrades requests that carry a live session (it runs behind
// sessionhttp.Middleware) and records the connection in a Registry under the
// session id. Registry is an event.Listener: when a session expires or is
// deleted, on this node or any other whose events reach the bridge, every
// connection of that session receives a close frame with CloseSessionEnded
// and is closed.
//
//	reg := websocket.NewRegistry(websocket.WithRegistryLogger(log))
//	bridge.Subscribe(event.OnDestroyed(reg))
//
//	mux.Handle("/ws", websocket.Handler(reg, func(ctx context.Context, sess *session.Session, conn *gorilla.Conn) error {
//		return websocket.ReadLoop(conn, func(mt int, data []byte) error {
//			return conn.WriteMessage(mt, data)
//		})
//	}))
//	http.ListenAndServe(":8080", sessionhttp.Middleware(repo)(mux))
package websocket
