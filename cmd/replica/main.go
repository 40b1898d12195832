// Command replica is a thin CLI client exercising internal/reconciler
// against a running prosemark server: it joins a document, applies a
// line of text as an edit, logs the `applied`/`error` frames that
// arrive within two seconds, and prints the reconciler's local text.
// Applied frames are only logged, not fed back into the reconciler,
// so edits from other clients are not reflected in the printed text.
// It exists to give the reconciler package a real caller outside its
// tests, the "thin CLI/bot client" of SPEC_FULL.md §4.7.
//
// Grounded on the teacher's agent/main.go client role (dial, read
// loop, write loop) minus the mDNS discovery, since this talks to one
// server address given on the command line rather than finding peers.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/reconciler"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	slug := flag.String("slug", "", "document slug")
	statePath := flag.String("state", "", "path to persist the pending queue (default: in-memory)")
	edit := flag.String("edit", "", "replace the document's text with this value")
	flag.Parse()

	if *slug == "" {
		fmt.Fprintln(os.Stderr, "-slug is required")
		os.Exit(1)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/api/ws", RawQuery: "slug=" + url.QueryEscape(*slug)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(proto.ClientFrame{Type: proto.FrameJoin, Slug: *slug}); err != nil {
		log.Fatalf("join failed: %v", err)
	}

	var snapshot proto.ServerFrame
	if err := conn.ReadJSON(&snapshot); err != nil {
		log.Fatalf("failed to read snapshot: %v", err)
	}
	if snapshot.Auth != "ok" {
		log.Fatalf("join rejected: %s", snapshot.Auth)
	}

	store := reconciler.PendingStore(reconciler.NewMemoryStore())
	if *statePath != "" {
		store = reconciler.NewFileStore(*statePath)
	}
	rec, err := reconciler.New(snapshot.ClientID, snapshot.Content, snapshot.Rev, store)
	if err != nil {
		log.Fatalf("failed to start reconciler: %v", err)
	}

	// resend anything left over from a previous run before doing
	// anything new (§4.7's reconnect behavior)
	for _, frame := range rec.Reconnect() {
		if err := conn.WriteJSON(frame); err != nil {
			log.Fatalf("resend failed: %v", err)
		}
	}

	if *edit != "" {
		frame, err := rec.Edit(*edit, nil, nil, uint64(time.Now().UnixMilli()))
		if err != nil {
			log.Fatalf("edit failed: %v", err)
		}
		if frame != nil {
			if err := conn.WriteJSON(frame); err != nil {
				log.Fatalf("send failed: %v", err)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for {
		var frame proto.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case proto.FrameApplied:
			log.Printf("applied rev=%d op_id=%s", frame.Rev, frame.OpID)
		case proto.FrameError:
			log.Printf("server error: %s", frame.Error)
		}
	}

	fmt.Println(rec.Text())
}
