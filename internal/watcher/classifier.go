package watcher

import (
	"encoding/json"
	"regexp"
	"strings"

	"mcpauth/internal/jsonrpc"
	"mcpauth/internal/supervisor"
)

// EventKind classifies one output chunk from a spawned process.
type EventKind int

const (
	// EventNone means the chunk matched nothing.
	EventNone EventKind = iota
	// EventAuthURL carries an authorization URL the user must visit.
	EventAuthURL
	// EventInlineToken carries a literal access token found in output.
	EventInlineToken
	// EventSuccessPhrase signals the process announced a completed
	// authentication; the token should now be on disk.
	EventSuccessPhrase
	// EventAuthedPayload signals the auth probe returned real
	// authenticated data, implying a previously completed flow.
	EventAuthedPayload
	// EventProgress is a corroborating signal that the flow is moving
	// past the URL stage. Logged, never terminal.
	EventProgress
)

// Event is the typed outcome of one classifier match.
type Event struct {
	Kind  EventKind
	URL   string
	Token string
}

// Classifier inspects one output chunk and reports a match or EventNone.
// Classifiers are independent heuristics: MCP server implementations
// vary wildly in how they signal OAuth status, so several run per chunk
// with first-match-wins.
type Classifier func(chunk string) Event

// StdoutClassifiers returns the pipeline applied to stdout chunks.
func StdoutClassifiers() []Classifier {
	return []Classifier{
		ClassifyJSONRPC,
		ClassifyInlineToken,
		ClassifySuccessPhrase,
	}
}

// StderrClassifiers returns the pipeline applied to stderr chunks.
func StderrClassifiers() []Classifier {
	return []Classifier{
		ClassifyAuthURL,
		ClassifySuccessPhrase,
		ClassifyProgress,
	}
}

// Classify runs the pipeline over a chunk, first match wins.
func Classify(pipeline []Classifier, chunk string) Event {
	for _, classify := range pipeline {
		if event := classify(chunk); event.Kind != EventNone {
			return event
		}
	}
	return Event{Kind: EventNone}
}

var (
	// urlAnnouncePattern matches literal "visit this URL" phrasings used
	// by OAuth client libraries before the URL itself.
	urlAnnouncePattern = regexp.MustCompile(`(?i)(?:visit|open|navigate to|authorize (?:this client )?(?:by|at) visiting)[:\s]+(https://\S+)`)

	// oauthPathPattern matches any HTTPS URL with an oauth-ish path.
	oauthPathPattern = regexp.MustCompile(`https://[^\s"'<>]*(?:oauth|authorize)[^\s"'<>]*`)

	// providerAuthorizePattern matches the known provider authorize
	// endpoints even when the path avoids the word "oauth".
	providerAuthorizePattern = regexp.MustCompile(`https://(?:linear\.app|app\.asana\.com|www\.notion\.so|accounts\.google\.com|github\.com|auth\.atlassian\.com)/[^\s"'<>]+`)

	inlineTokenPattern = regexp.MustCompile(`access_token=([A-Za-z0-9._~+/=-]+)`)

	successPhrasePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)oauth.{0,40}success`),
		regexp.MustCompile(`(?i)authentication.{0,40}(?:complete|successful)`),
		regexp.MustCompile(`(?i)authorization successful`),
		regexp.MustCompile(`(?i)token(?:s)? saved`),
		regexp.MustCompile(`(?i)successfully authenticated`),
	}

	progressPhrases = []string{
		"Auth code received",
		"Completing authorization",
		"Connected to remote server",
		"Proxy established",
	}
)

// ClassifyAuthURL scans free text for an authorization URL announcement
// or a known provider authorize endpoint.
func ClassifyAuthURL(chunk string) Event {
	if m := urlAnnouncePattern.FindStringSubmatch(chunk); m != nil {
		return Event{Kind: EventAuthURL, URL: trimURL(m[1])}
	}
	if m := oauthPathPattern.FindString(chunk); m != "" {
		return Event{Kind: EventAuthURL, URL: trimURL(m)}
	}
	if m := providerAuthorizePattern.FindString(chunk); m != "" {
		return Event{Kind: EventAuthURL, URL: trimURL(m)}
	}
	return Event{Kind: EventNone}
}

// ClassifyInlineToken catches access tokens printed directly in output.
func ClassifyInlineToken(chunk string) Event {
	if m := inlineTokenPattern.FindStringSubmatch(chunk); m != nil {
		return Event{Kind: EventInlineToken, Token: m[1]}
	}
	return Event{Kind: EventNone}
}

// ClassifySuccessPhrase catches completion announcements. The token
// itself is expected on disk shortly after.
func ClassifySuccessPhrase(chunk string) Event {
	for _, pattern := range successPhrasePatterns {
		if pattern.MatchString(chunk) {
			return Event{Kind: EventSuccessPhrase}
		}
	}
	return Event{Kind: EventNone}
}

// ClassifyProgress catches non-terminal flow-progress phrases.
func ClassifyProgress(chunk string) Event {
	for _, phrase := range progressPhrases {
		if strings.Contains(chunk, phrase) {
			return Event{Kind: EventProgress}
		}
	}
	return Event{Kind: EventNone}
}

// ClassifyJSONRPC handles structured output: JSON-RPC errors carrying an
// embedded authorization URL, and results to the auth probe carrying
// authenticated payloads.
func ClassifyJSONRPC(chunk string) Event {
	trimmed := strings.TrimSpace(chunk)
	if !strings.HasPrefix(trimmed, "{") {
		return Event{Kind: EventNone}
	}

	resp, err := jsonrpc.ParseResponse([]byte(trimmed))
	if err != nil {
		// Expected: many stdout lines are plain logs, not JSON-RPC.
		return Event{Kind: EventNone}
	}

	if resp.Error != nil {
		text := resp.Error.Message
		if resp.Error.Data != nil {
			if data, err := json.Marshal(resp.Error.Data); err == nil {
				text += " " + string(data)
			}
		}
		if event := ClassifyAuthURL(text); event.Kind == EventAuthURL {
			return event
		}
		return Event{Kind: EventNone}
	}

	if resp.ID.EqualsNumber(supervisor.ProbeIDAuthCall) && resultLooksAuthenticated(resp.Result) {
		return Event{Kind: EventAuthedPayload}
	}
	return Event{Kind: EventNone}
}

// toolCallResult is the subset of an MCP tools/call result we inspect.
type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// resultLooksAuthenticated reports whether the probe result's nested
// text content parses as real authenticated data: an array of records
// each carrying an id field. This is a best-effort heuristic inferred
// from common provider response shapes; it can misfire for servers
// whose unauthenticated list calls also return record-shaped data.
func resultLooksAuthenticated(raw json.RawMessage) bool {
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false
	}
	if result.IsError {
		return false
	}

	for _, content := range result.Content {
		if content.Type != "" && content.Type != "text" {
			continue
		}
		var records []map[string]any
		if err := json.Unmarshal([]byte(content.Text), &records); err != nil {
			continue
		}
		if len(records) == 0 {
			continue
		}
		if _, hasID := records[0]["id"]; hasID {
			return true
		}
	}
	return false
}

// trimURL drops trailing punctuation a sentence may append to a URL.
func trimURL(url string) string {
	return strings.TrimRight(url, `.,;)'"`)
}
