// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command shipd is the manager-node daemon: it serves the
// HTTP surface that the ship CLI talks to, persists state in an
// embedded store, and drives a Docker Swarm manager.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shiphq/ship/pkg/auth"
	"github.com/shiphq/ship/pkg/server"
	"github.com/shiphq/ship/pkg/store"
	"github.com/shiphq/ship/pkg/swarm"
)

const shutdownTimeout = 10 * time.Second

var (
	dbPath    = flag.String("db-path", envOr("DBPATH", "data/ship.db"), "path to the embedded state database")
	imagesDir = flag.String("images-dir", envOr("IMAGES_DIR", "data/images"), "directory used to stage uploaded image tarballs")
	listen    = flag.String("listen", envOr("LISTEN_ADDR", ":8080"), "address to listen on")
	network   = flag.String("network", os.Getenv("SWARM_NETWORK"), "docker network new services are attached to")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()

	if err := os.MkdirAll(*imagesDir, 0o755); err != nil {
		log.Fatalf("failed to create images dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Fatalf("failed to create db dir: %v", err)
	}

	if err := initSigningKey(); err != nil {
		log.Fatalf("failed to initialize signing key: %v", err)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	adapter, err := swarm.Dial(*network)
	if err != nil {
		log.Fatalf("failed to connect to docker: %v", err)
	}

	srv := server.NewServer(server.Config{
		Store:     st,
		Adapter:   adapter,
		Digester:  adapter,
		ImagesDir: *imagesDir,
	})
	srv.Start()
	defer srv.Shutdown()

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("shipd listening on %s", *listen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}

// initSigningKey loads JWT_KEY (hex-encoded) if set, else mints a random
// key for this process's lifetime. A random key means tokens minted
// before a restart stop validating; key persistence across restarts is
// left to the deployment environment, not this binary.
func initSigningKey() error {
	if hexKey := os.Getenv("JWT_KEY"); hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return err
		}
		auth.Init(key)
		return nil
	}
	key, err := auth.RandomKey()
	if err != nil {
		return err
	}
	auth.Init(key)
	log.Print("JWT_KEY not set, generated an ephemeral signing key for this process")
	return nil
}
