// Package web serves the attitude snapshot, session counters, recent logs,
// Prometheus metrics and a websocket attitude stream over HTTP.
package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dmpimu/internal/ahrs"
	"dmpimu/internal/sensors/mpu9250"
)

const streamWriteWait = 2 * time.Second

// Source is satisfied by *ahrs.Service.
type Source interface {
	Snapshot() ahrs.Snapshot
	Stats() mpu9250.Stats
}

type StatsResponse struct {
	Cycles         uint64 `json:"cycles"`
	Failures       uint64 `json:"failures"`
	FIFOResets     uint64 `json:"fifo_resets"`
	FIFOErrors     uint64 `json:"fifo_errors"`
	BadQuaternions uint64 `json:"bad_quaternions"`
	MagSaturated   uint64 `json:"mag_saturated"`
	FusionUpdates  uint64 `json:"fusion_updates"`
	FusionErrors   uint64 `json:"fusion_errors"`
	Subscribers    int    `json:"stream_subscribers"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler wires the API. Any of att, logs and metrics may be nil, in which
// case the matching endpoint answers 404.
func Handler(src Source, att *AttitudeBroadcaster, logs *LogBuffer, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/attitude", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, src.Snapshot())
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		st := src.Stats()
		writeJSON(w, StatsResponse{
			Cycles:         st.Cycles,
			Failures:       st.Failures,
			FIFOResets:     st.FIFOResets,
			FIFOErrors:     st.FIFOErrors,
			BadQuaternions: st.BadQuaternions,
			MagSaturated:   st.MagSaturated,
			FusionUpdates:  st.FusionUpdates,
			FusionErrors:   st.FusionErrors,
			Subscribers:    att.Subscribers(),
		})
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	if att != nil {
		mux.HandleFunc("/ws/attitude", streamAttitude(att))
	}
	return mux
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// streamAttitude pushes every published snapshot to the client as a JSON
// text frame until either side goes away.
func streamAttitude(att *AttitudeBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		id, ch := att.Subscribe(4)
		defer att.Unsubscribe(id)

		// The client sends nothing; reading only surfaces its close.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case snap, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			}
		}
	}
}

// Serve runs the HTTP server until ctx is canceled.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
