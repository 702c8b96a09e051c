package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vdbe"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// Flags
var (
	flagDSN     = flag.String("dsn", "mem://default", "DSN (mem://name or file:path)")
	flagHTTP    = flag.String("http", ":8080", "HTTP listen address (empty to disable)")
	flagGRPC    = flag.String("grpc", ":9090", "gRPC listen address (empty to disable)")
	flagPeers   = flag.String("peers", "", "Comma-separated list of gRPC peer addresses for federation (optional)")
	flagVerbose = flag.Bool("v", false, "Verbose logging")
)

// HTTP/gRPC wire types
type execRequest struct {
	SQL string `json:"sql"`
}
type execResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	RowsAffected int64  `json:"rows_affected,omitempty"`
	LastInsertID int64  `json:"last_insert_id,omitempty"`
	Duration     string `json:"duration"`
}

type queryRequest struct {
	SQL string `json:"sql"`
}
type queryResponse struct {
	SQL      string           `json:"sql"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	Error    string           `json:"error,omitempty"`
	Duration string           `json:"duration"`
	Count    int              `json:"count"`
}

// gRPC JSON codec
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)       { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error  { return json.Unmarshal(data, v) }

// gRPC service interface and descriptors (manual, no protobuf)
type TinySQLServer interface {
	Exec(context.Context, *execRequest) (*execResponse, error)
	Query(context.Context, *queryRequest) (*queryResponse, error)
}

func registerTinySQLServer(s *grpc.Server, srv TinySQLServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "tinysql.TinySQL",
		HandlerType: (*TinySQLServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Exec", Handler: _TinySQL_Exec_Handler},
			{MethodName: "Query", Handler: _TinySQL_Query_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "tinysql",
	}, srv)
}

func _TinySQL_Exec_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(execRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TinySQLServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tinysql.TinySQL/Exec"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(TinySQLServer).Exec(ctx, req.(*execRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _TinySQL_Query_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(queryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TinySQLServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tinysql.TinySQL/Query"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(TinySQLServer).Query(ctx, req.(*queryRequest)) }
	return interceptor(ctx, in, info, handler)
}

// server wraps a single connection onto the new storage engine. A mutex
// serializes every Exec/Query against it: internal/pager's own lock only
// protects page-cache/transaction bookkeeping, not internal/schema's
// catalog maps, so two goroutines racing a CREATE TABLE and a SELECT
// still need serializing at this layer.
type server struct {
	mu    sync.Mutex
	p     *pager.Pager
	conn  *vdbe.Conn
	peers []string
}

func newServer(dsn string) (*server, error) {
	p, conn, err := openConn(dsn)
	if err != nil {
		return nil, err
	}
	return &server{p: p, conn: conn}, nil
}

// openConn resolves dsn the same way internal/driver and cmd/shell do:
// mem://name for an in-memory database, file:path for a real file.
func openConn(dsn string) (*pager.Pager, *vdbe.Conn, error) {
	var v vfs.VFS
	var path string
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "mem://"):
		v = vfs.NewMemVFS()
		path = strings.TrimPrefix(dsn, "mem://")
		if path == "" {
			path = "default"
		}
		path += ".db"
	case strings.HasPrefix(dsn, "file:"):
		v = vfs.NewOSVFS("")
		path = strings.TrimPrefix(dsn, "file:")
		if path == "" {
			return nil, nil, fmt.Errorf("file: DSN requires a path")
		}
	default:
		return nil, nil, fmt.Errorf("unsupported DSN %q", dsn)
	}
	p, err := pager.Open(v, path, 256)
	if err != nil {
		return nil, nil, err
	}
	conn, err := vdbe.Open(p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return p, conn, nil
}

// TinySQLServer implementation
func (s *server) Exec(ctx context.Context, req *execRequest) (*execResponse, error) {
	start := time.Now()
	s.mu.Lock()
	res, err := s.conn.Exec(req.SQL)
	s.mu.Unlock()
	if err != nil {
		return &execResponse{Success: false, Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	return &execResponse{
		Success:      true,
		RowsAffected: int64(res.RowsAffected),
		LastInsertID: res.LastInsertRowid,
		Duration:     time.Since(start).String(),
	}, nil
}

func (s *server) Query(ctx context.Context, req *queryRequest) (*queryResponse, error) {
	start := time.Now()
	s.mu.Lock()
	rs, err := s.conn.Query(req.SQL)
	s.mu.Unlock()
	if err != nil {
		return &queryResponse{SQL: req.SQL, Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	rows := make([]map[string]any, len(rs.Rows))
	for i, row := range rs.Rows {
		m := make(map[string]any, len(rs.Cols))
		for j, c := range rs.Cols {
			m[c] = valueToJSON(row[j])
		}
		rows[i] = m
	}
	return &queryResponse{
		SQL:      req.SQL,
		Columns:  rs.Cols,
		Rows:     rows,
		Duration: time.Since(start).String(),
		Count:    len(rows),
	}, nil
}

// valueToJSON converts a record.Value to the native Go type encoding/json
// renders the way a real SQLite row would: a number, a string, or null.
func valueToJSON(v record.Value) any {
	switch v.Kind {
	case record.KindNull:
		return nil
	case record.KindInteger:
		return v.I
	case record.KindReal:
		return v.R
	case record.KindBlob:
		return v.S
	default:
		return string(v.S)
	}
}

// HTTP handlers
func (s *server) handleExec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Exec(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Query(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tables := len(s.conn.Catalog().TableNames())
	s.mu.Unlock()
	writeJSON(w, map[string]any{
		"ok":     true,
		"time":   time.Now().Format(time.RFC3339),
		"tables": tables,
		"peers":  s.peers,
		"build":  "dev",
	})
}

// Federated query: query all peers via gRPC JSON codec and merge rows (concat)
func (s *server) handleFederatedQuery(w http.ResponseWriter, r *http.Request) {
	if len(s.peers) == 0 {
		http.Error(w, "No peers configured", http.StatusBadRequest)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	local, _ := s.Query(r.Context(), &req)
	cols := append([]string{}, local.Columns...)
	rows := append([]map[string]any{}, local.Rows...)

	type peerRes struct {
		rows []map[string]any
		err  error
	}
	ch := make(chan peerRes, len(s.peers))
	var wg sync.WaitGroup
	for _, addr := range s.peers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			out, err := grpcQuery(addr, &queryRequest{SQL: req.SQL})
			if err != nil {
				ch <- peerRes{nil, err}
				return
			}
			if !equalStringSlices(cols, out.Columns) {
				ch <- peerRes{nil, fmt.Errorf("peer %s columns mismatch", addr)}
				return
			}
			ch <- peerRes{out.Rows, nil}
		}(strings.TrimSpace(addr))
	}
	wg.Wait()
	close(ch)
	for res := range ch {
		if res.err != nil {
			if *flagVerbose {
				log.Printf("federation peer error: %v", res.err)
			}
			continue
		}
		rows = append(rows, res.rows...)
	}
	writeJSON(w, &queryResponse{
		SQL:      req.SQL,
		Columns:  cols,
		Rows:     rows,
		Duration: "n/a",
		Count:    len(rows),
	})
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	mm := make(map[string]struct{}, len(a))
	for _, s := range a {
		mm[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := mm[s]; !ok {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// gRPC JSON client helper
func grpcQuery(addr string, req *queryRequest) (*queryResponse, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	var resp queryResponse
	if err := conn.Invoke(context.Background(), "/tinysql.TinySQL/Query", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return &resp, fmt.Errorf(resp.Error)
	}
	return &resp, nil
}

func main() {
	flag.Parse()

	srv, err := newServer(*flagDSN)
	if err != nil {
		log.Fatalf("open error: %v", err)
	}
	defer srv.p.Close()

	if p := strings.TrimSpace(*flagPeers); p != "" {
		srv.peers = strings.Split(p, ",")
	}

	encoding.RegisterCodec(jsonCodec{})

	var grpcErr error
	if *flagGRPC != "" {
		go func() {
			lis, err := net.Listen("tcp", *flagGRPC)
			if err != nil {
				log.Printf("gRPC listen error: %v", err)
				grpcErr = err
				return
			}
			gs := grpc.NewServer()
			registerTinySQLServer(gs, srv)
			log.Printf("gRPC listening on %s", *flagGRPC)
			if err := gs.Serve(lis); err != nil {
				log.Printf("gRPC serve error: %v", err)
				grpcErr = err
			}
		}()
	}

	if *flagHTTP != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/exec", srv.handleExec)
		mux.HandleFunc("/api/query", srv.handleQuery)
		mux.HandleFunc("/api/status", srv.handleStatus)
		mux.HandleFunc("/api/federated/query", srv.handleFederatedQuery)
		log.Printf("HTTP listening on %s", *flagHTTP)
		if err := http.ListenAndServe(*flagHTTP, mux); err != nil {
			log.Printf("HTTP serve error: %v", err)
			if grpcErr != nil {
				os.Exit(1)
			}
		}
	} else {
		select {}
	}
}
