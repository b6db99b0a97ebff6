package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/filegrind/keyapi-go"
	"github.com/filegrind/keyapi-go/internal/logx"
	"github.com/filegrind/keyapi-go/wire"
)

type lineRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type lineResponse struct {
	Method string          `json:"method"`
	Value  json.RawMessage `json:"value"`
	Error  bool            `json:"error,omitempty"`
}

// serveLines issues one concurrent call per input line and writes one output line
// per answered call, in completion order. It returns once the input ends and every
// call has finished.
func serveLines(ctx context.Context, r io.Reader, w io.Writer, caller keyapi.Caller, maxLine int) error {
	if maxLine <= 0 {
		maxLine = wire.DefaultMaxFrame
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)

	var (
		mu  sync.Mutex
		enc = json.NewEncoder(w)
		wg  sync.WaitGroup
	)
	emit := func(resp lineResponse) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(resp); err != nil {
			logx.Log.Error().Err(err).Str("method", resp.Method).Msg("failed to write response line")
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req lineRequest
		if err := json.Unmarshal(line, &req); err != nil || req.Method == "" {
			logx.Log.Warn().Err(err).Str("line", string(line)).Msg("skipping malformed request line")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			var params any
			if len(req.Params) > 0 {
				params = req.Params
			}
			out, err := caller.CallOutcome(ctx, req.Method, params)
			if err != nil {
				logx.Log.Error().Err(err).Str("method", req.Method).Msg("call failed")
				return
			}
			emit(lineResponse{Method: req.Method, Value: out.Value, Error: out.Failed})
		}()
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}
