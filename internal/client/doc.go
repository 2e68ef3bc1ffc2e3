// Package client connects to a board gateway over WebSocket and keeps a
// reconciled mirror of one board.
//
// A Session joins the board on Run and feeds every gateway message to a
// reconciler.Reconciler. Column edits and task moves are optimistic: they show
// up in the mirror at once and are committed or reverted when the outcome
// arrives. Task creation and task detail reads wait for the gateway's answer
// instead.
//
// The session fetches a fresh snapshot with get-board whenever the reconciler
// finds a sequence gap or an operation times out.
//
//	s, err := client.Dial(ctx, client.Config{
//		URL:          "ws://localhost:8080/ws",
//		Token:        token,
//		ProjectScope: "proj-1",
//		BoardKey:     "board-1",
//	})
//	go s.Run(ctx)
//	<-s.Ready()
//	col, op, err := s.CreateContainer(ctx, "Backlog")
package client
