package watcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"mcpauth/internal/api"
	"mcpauth/internal/supervisor"
	"mcpauth/internal/tokens"
	"mcpauth/pkg/logging"
)

// sentinelToken is returned when authenticated data was observed but no
// token file ever appeared on disk. It documents that authentication is
// functioning even though the concrete secret could not be extracted.
const sentinelToken = "oauth_working"

// maxScanTokenSize bounds a single output line; JSON-RPC results can
// carry large payloads.
const maxScanTokenSize = 1024 * 1024

// stderrTailLimit bounds the captured stderr included in failure results.
const stderrTailLimit = 4096

// Monitor watches a spawned process's output streams until one terminal
// outcome wins: a token is found, an authorization URL is found, the
// timeout elapses, or the process exits. One Monitor serves exactly one
// attempt; the result is resolved exactly once.
type Monitor struct {
	handle  *supervisor.Handle
	store   *tokens.Store
	timeout time.Duration

	// Retry pacing for the already-authenticated path. Overridable in
	// tests.
	tokenRetryAttempts int
	tokenRetryInterval time.Duration
	successScanDelay   time.Duration

	resolveOnce sync.Once
	resultCh    chan *api.TokenRecord

	mu           sync.Mutex
	authURLSeen  bool
	tokenFlagged bool
	stderrTail   strings.Builder
}

// NewMonitor creates a monitor for one attempt on the given handle.
func NewMonitor(handle *supervisor.Handle, store *tokens.Store, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = api.DefaultTriggerTimeout
	}
	return &Monitor{
		handle:             handle,
		store:              store,
		timeout:            timeout,
		tokenRetryAttempts: 5,
		tokenRetryInterval: time.Second,
		successScanDelay:   time.Second,
		resultCh:           make(chan *api.TokenRecord, 1),
	}
}

// Run blocks until a terminal outcome and returns the result. On return
// every internal timer and goroutine is cancelled; the process itself is
// killed only on timeout (an authorization URL outcome leaves it running
// so the eventual token can still be captured). When the process exits
// on its own the outcome is finalized only after both output streams hit
// EOF, so every line has been classified and the stderr tail is complete.
func (m *Monitor) Run(ctx context.Context) *api.TokenRecord {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.consumeStream(ctx, m.handle.Stdout, StdoutClassifiers(), false)
	}()
	go func() {
		defer readers.Done()
		m.consumeStream(ctx, m.handle.Stderr, StderrClassifiers(), true)
	}()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	// Fired channels are nilled out so the loop cannot spin on them
	// while waiting for the winning resolve to land on resultCh.
	doneCh := m.handle.Done()
	drainedCh := drained
	timerCh := timer.C
	ctxCh := ctx.Done()
	exited := false
	streamsDrained := false

	for {
		select {
		case record := <-m.resultCh:
			return record

		case <-doneCh:
			doneCh = nil
			exited = true
			// Finalizing requires both exit AND drained streams: the
			// classifiers must have seen every output line first, or a
			// fast-exiting process that printed a token would be
			// misreported as a failure.
			if streamsDrained {
				m.finalizeOnExit()
			}

		case <-drainedCh:
			drainedCh = nil
			streamsDrained = true
			if exited {
				// May lose to an earlier resolve; the winning record is
				// returned on the next iteration either way.
				m.finalizeOnExit()
			}

		case <-timerCh:
			timerCh = nil
			logging.Warn("Watcher", "OAuth flow for %s timed out after %v", m.handle.ServerName, m.timeout)
			m.handle.Kill()
			m.resolve(api.ErrorResult(fmt.Sprintf("OAuth flow timed out after %v", m.timeout)))

		case <-ctxCh:
			ctxCh = nil
			m.resolve(api.ErrorResult("OAuth flow cancelled"))
		}
	}
}

// consumeStream reads one output stream line by line and applies the
// classifier pipeline to each chunk.
func (m *Monitor) consumeStream(ctx context.Context, stream io.Reader, pipeline []Classifier, isStderr bool) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if isStderr {
			m.appendStderr(line)
		}
		m.handleEvent(ctx, Classify(pipeline, line), line)
	}
}

func (m *Monitor) handleEvent(ctx context.Context, event Event, line string) {
	switch event.Kind {
	case EventAuthURL:
		m.mu.Lock()
		m.authURLSeen = true
		m.mu.Unlock()
		logging.Info("Watcher", "Authorization URL found for %s", m.handle.ServerName)
		// User action required: resolve now, leave the process running
		// so a later token write can still land on disk.
		m.resolve(api.AuthURLResult(event.URL))

	case EventInlineToken:
		logging.Info("Watcher", "Inline access token found for %s", m.handle.ServerName)
		m.resolve(api.TokenResult(event.Token, api.TokenTypeBearer))

	case EventSuccessPhrase:
		m.mu.Lock()
		m.tokenFlagged = true
		m.mu.Unlock()
		logging.Info("Watcher", "Authentication success phrase seen for %s", m.handle.ServerName)
		go m.scanAfterSuccessPhrase(ctx)

	case EventAuthedPayload:
		m.mu.Lock()
		urlSeen := m.authURLSeen
		m.tokenFlagged = true
		m.mu.Unlock()
		if urlSeen {
			// The flow we started has completed; the token should be on
			// disk now.
			go m.scanAfterSuccessPhrase(ctx)
			return
		}
		logging.Info("Watcher", "Authenticated data with no prior OAuth URL for %s, assuming prior auth", m.handle.ServerName)
		go m.resolveAlreadyAuthenticated(ctx)

	case EventProgress:
		logging.Debug("Watcher", "OAuth progress for %s: %s", m.handle.ServerName, line)
	}
}

// scanAfterSuccessPhrase waits briefly for the OAuth library to flush
// its token file, then resolves with the scanned token if one appears.
func (m *Monitor) scanAfterSuccessPhrase(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.successScanDelay):
	}
	if record := m.store.Scan(m.handle.CredentialDir, m.handle.ServerName); record != nil {
		m.resolve(record)
	}
}

// resolveAlreadyAuthenticated handles the case where the auth probe
// returned real data without any OAuth URL having been emitted: a prior
// run already completed the flow. The token file is retried for a few
// seconds; when it never appears a sentinel token documents that auth
// works even though the secret is not extractable.
func (m *Monitor) resolveAlreadyAuthenticated(ctx context.Context) {
	record := m.store.WaitForToken(ctx, m.handle.CredentialDir, m.handle.ServerName,
		m.tokenRetryAttempts, m.tokenRetryInterval)
	if record == nil {
		if ctx.Err() != nil {
			return
		}
		record = api.TokenResult(sentinelToken, api.TokenTypeOAuth)
	}
	m.resolve(record)
}

// finalizeOnExit resolves the attempt after the process has exited.
func (m *Monitor) finalizeOnExit() {
	code, _ := m.handle.ExitCode()
	m.mu.Lock()
	flagged := m.tokenFlagged
	stderrText := m.stderrTail.String()
	m.mu.Unlock()

	if flagged || code == 0 {
		if record := m.store.Scan(m.handle.CredentialDir, m.handle.ServerName); record != nil {
			m.resolve(record)
			return
		}
		m.resolve(api.ErrorResult(exitMessage(code, stderrText)))
		return
	}
	m.resolve(api.ErrorResult(exitMessage(code, stderrText)))
}

func exitMessage(code int, stderrText string) string {
	msg := fmt.Sprintf("process exited with code %d before completing authentication", code)
	if stderrText != "" {
		msg += ": " + stderrText
	}
	return msg
}

func (m *Monitor) appendStderr(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stderrTail.Len() >= stderrTailLimit {
		return
	}
	if m.stderrTail.Len() > 0 {
		m.stderrTail.WriteByte('\n')
	}
	m.stderrTail.WriteString(line)
}

// resolve delivers the terminal record exactly once. Near-simultaneous
// matches on both streams are expected; losers are dropped here.
func (m *Monitor) resolve(record *api.TokenRecord) {
	m.resolveOnce.Do(func() {
		m.resultCh <- record
	})
}
