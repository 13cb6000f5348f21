// Command worker is the reference backend process the supervisor
// spawns per target: it reads workerproto requests from stdin and
// answers on stdout, backing a small "items" record store with
// insert/update/select, the same three operations the original SQLite
// tenant backends expose.
//
// The store here is a gob-encoded flat file rather than SQLite: the
// data model is three untyped fields (id, name, value) with no
// relational structure, so a single encode/decode round trip is enough
// and doesn't ask for a real database driver's transaction or query
// semantics.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/logger"
	"github.com/relaygate/relaygate/internal/workerproto"
)

func main() {
	cfg := config.WorkerFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize("worker", "info", false)
	log := logger.Component("worker").With().Str("target", cfg.Target).Logger()

	store, err := openStore(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		req, err := workerproto.ReadRequest(scanner)
		if err != nil {
			log.Info().Err(err).Msg("stdin closed, exiting")
			return
		}

		result, handleErr := handle(store, req.Method, req.Params)
		if handleErr != nil {
			if err := workerproto.WriteResponse(os.Stdout, req.ID, nil, handleErr.Error()); err != nil {
				log.Error().Err(err).Msg("failed to write error response")
				return
			}
			continue
		}
		if err := workerproto.WriteResponse(os.Stdout, req.ID, result, ""); err != nil {
			log.Error().Err(err).Msg("failed to write response")
			return
		}
	}
}

func handle(store *Store, method string, params map[string]interface{}) (interface{}, error) {
	switch method {
	case workerproto.MethodInsert:
		name, _ := params["name"].(string)
		value, _ := params["value"].(string)
		id := store.Insert(name, value)
		return map[string]interface{}{"status": "inserted", "id": id}, nil
	case workerproto.MethodUpdate:
		id, ok := asInt(params["id"])
		if !ok {
			return nil, fmt.Errorf("update requires an integer id")
		}
		value, _ := params["value"].(string)
		rows := store.Update(id, value)
		return map[string]interface{}{"status": "updated", "rows": rows}, nil
	case workerproto.MethodSelect:
		if _, present := params["id"]; present {
			id, ok := asInt(params["id"])
			if !ok {
				return nil, fmt.Errorf("select requires an integer id")
			}
			return store.SelectByID(id), nil
		}
		return store.Select(), nil
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
