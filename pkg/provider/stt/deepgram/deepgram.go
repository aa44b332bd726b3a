// Package deepgram provides a streaming [stt.Provider] backed by the Deepgram
// live transcription WebSocket API.
//
// Voice activity events are enabled: Deepgram's SpeechStarted message is
// surfaced as an empty partial transcript, so a streaming capturer learns
// about speech onset before the first words are recognised.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxact/pkg/provider/stt"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultSampleRate  = 16000
	defaultEndpointing = 300

	// Deepgram drops a connection after about ten seconds without audio. The
	// microphone pauses while the page is being acted on, so idle streams
	// send KeepAlive instead.
	defaultKeepAlive = 5 * time.Second
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how many milliseconds of silence Deepgram waits before
// finalising an utterance.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointing = ms }
}

// WithKeepAlive sets the idle interval after which a KeepAlive message is
// sent. Zero or negative keeps the default.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// WithEndpoint overrides the WebSocket URL. Used by tests and self-hosted
// deployments.
func WithEndpoint(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing int
	keepAlive   time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointing,
		keepAlive:   defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && unavailable(resp.StatusCode) {
			return nil, fmt.Errorf("deepgram: dial: HTTP %d: %w", resp.StatusCode, stt.ErrServiceUnavailable)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &stream{
		conn:      conn,
		keepAlive: p.keepAlive,
		partials:  make(chan stt.Transcript, 64),
		finals:    make(chan stt.Transcript, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s, nil
}

func unavailable(status int) bool {
	return status == http.StatusUnauthorized ||
		status == http.StatusPaymentRequired ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointing))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type message struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type stream struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	partials  chan stt.Transcript
	finals    chan stt.Transcript
	audio     chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }

func (s *stream) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords returns stt.ErrNotSupported; keywords are fixed at dial time.
func (s *stream) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: mid-session keyword update: %w", stt.ErrNotSupported)
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	idle := time.NewTimer(s.keepAlive)
	defer idle.Stop()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			idle.Reset(s.keepAlive)
		case <-idle.C:
			if err := s.conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				return
			}
			idle.Reset(s.keepAlive)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseMessage(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
			return
		}
	}
}

// parseMessage converts a Deepgram message into a Transcript. SpeechStarted
// becomes an empty partial; metadata and empty finals are ignored.
func parseMessage(data []byte) (stt.Transcript, bool) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return stt.Transcript{}, false
	}
	switch m.Type {
	case "SpeechStarted":
		return stt.Transcript{Timestamp: seconds(m.Start)}, true
	case "Results":
	default:
		return stt.Transcript{}, false
	}
	if len(m.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := m.Channel.Alternatives[0]
	if m.IsFinal && alt.Transcript == "" {
		return stt.Transcript{}, false
	}
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(m.Start),
		Duration:   seconds(m.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
