package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountentity "github.com/vadim/igflow/internal/domain/account/entity"
	autoentity "github.com/vadim/igflow/internal/domain/automation/entity"
	"github.com/vadim/igflow/internal/domain/automation/dispatch"
	"github.com/vadim/igflow/internal/domain/automation/sequencer"
	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// In-memory test doubles.

type memFilter struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemFilter() *memFilter {
	return &memFilter{seen: make(map[string]bool)}
}

func (f *memFilter) InsertIfAbsent(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *memFilter) Remove(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, eventID)
	return nil
}

func (f *memFilter) contains(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID]
}

type memConvStore struct {
	mu    sync.Mutex
	convs map[string]*entity.Conversation
}

func newMemConvStore() *memConvStore {
	return &memConvStore{convs: make(map[string]*entity.Conversation)}
}

func (s *memConvStore) GetOrCreate(_ context.Context, accountID, externalUserID string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + ":" + externalUserID
	if conv, ok := s.convs[key]; ok {
		cp := *conv
		return &cp, nil
	}
	conv := &entity.Conversation{
		ID:             fmt.Sprintf("conv-%d", len(s.convs)+1),
		AccountID:      accountID,
		ExternalUserID: externalUserID,
		State:          entity.StateGreeting,
		CreatedAt:      time.Now(),
	}
	s.convs[key] = conv
	cp := *conv
	return &cp, nil
}

func (s *memConvStore) Update(_ context.Context, conv *entity.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.convs[conv.AccountID+":"+conv.ExternalUserID] = &cp
	return nil
}

func (s *memConvStore) get(accountID, externalUserID string) *entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.convs[accountID+":"+externalUserID]
	if conv == nil {
		return nil
	}
	cp := *conv
	return &cp
}

type memMsgStore struct {
	mu   sync.Mutex
	msgs map[string][]entity.Message
}

func newMemMsgStore() *memMsgStore {
	return &memMsgStore{msgs: make(map[string][]entity.Message)}
}

func (s *memMsgStore) Append(_ context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Index = len(s.msgs[msg.ConversationID])
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], *msg)
	return nil
}

func (s *memMsgStore) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[conversationID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	out := make([]entity.Message, end-offset)
	copy(out, msgs[offset:end])
	return out, nil
}

type memAccountStore struct {
	acc *accountentity.Account
}

func (s *memAccountStore) GetByID(_ context.Context, id string) (*accountentity.Account, error) {
	if s.acc == nil || s.acc.ID != id {
		return nil, accountentity.ErrAccountNotFound
	}
	cp := *s.acc
	return &cp, nil
}

func (s *memAccountStore) Resolve(_ context.Context, igAccountID string) (*accountentity.Account, error) {
	if s.acc == nil || s.acc.InstagramAccountID != igAccountID {
		return nil, accountentity.ErrAccountNotFound
	}
	cp := *s.acc
	return &cp, nil
}

// recordingDispatcher counts invocations and optionally signals handoff
type recordingDispatcher struct {
	mu      sync.Mutex
	calls   int
	actions [][]autoentity.Action
	handoff bool
}

func (d *recordingDispatcher) Execute(_ context.Context, _ *accountentity.Account, _ *entity.Conversation, history []entity.Message, actions []autoentity.Action) (*dispatch.Result, []entity.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.actions = append(d.actions, actions)

	signalHandoff := false
	for _, a := range actions {
		if a.Type == autoentity.ActionCallAI && d.handoff {
			signalHandoff = true
		}
	}
	return &dispatch.Result{AIHandoff: signalHandoff}, history, nil
}

func (d *recordingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type pipelineFixture struct {
	pipeline   *Pipeline
	seq        *sequencer.Sequencer
	filter     *memFilter
	convs      *memConvStore
	msgs       *memMsgStore
	dispatcher *recordingDispatcher
	accounts   *memAccountStore
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	accounts := &memAccountStore{acc: &accountentity.Account{
		ID:                 "acc-1",
		InstagramAccountID: "ig-123",
		AccessToken:        "tok",
		ConnectionStatus:   accountentity.StatusConnected,
		Automation: accountentity.AutomationConfig{
			CaptureEmail: true,
			CapturePhone: true,
			MaxReprompts: 3,
		},
	}}

	convs := newMemConvStore()
	msgs := newMemMsgStore()
	disp := &recordingDispatcher{}
	filter := newMemFilter()
	seq := sequencer.New(8)

	p := NewPipeline(
		NewNormalizer(accounts),
		filter,
		seq,
		accounts,
		convs,
		msgs,
		disp,
		nil,
		Texts{
			Greeting:    "hi",
			EmailPrompt: "email?",
			EmailRetry:  "email again?",
			PhonePrompt: "phone?",
			PhoneRetry:  "phone again?",
			AIIntro:     "ask away",
			OptOutReply: "bye",
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	return &pipelineFixture{pipeline: p, seq: seq, filter: filter, convs: convs, msgs: msgs, dispatcher: disp, accounts: accounts}
}

func dmBody(mid, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "instagram",
		"entry": [{
			"id": "ig-123",
			"messaging": [{
				"sender": {"id": "user-9"},
				"timestamp": %d,
				"message": {"mid": %q, "text": %q}
			}]
		}]
	}`, time.Now().UnixMilli(), mid, text))
}

func (f *pipelineFixture) submitAndDrain(t *testing.T, bodies ...[]byte) {
	t.Helper()
	for _, body := range bodies {
		require.NoError(t, f.pipeline.Submit(context.Background(), body))
	}
	require.NoError(t, f.seq.Close(context.Background()))
}

func TestPipelineAdvancesThroughCaptureFlow(t *testing.T) {
	f := newPipelineFixture(t)

	f.submitAndDrain(t,
		dmBody("mid.1", "hello"),
		dmBody("mid.2", "my email is a@b.com"),
		dmBody("mid.3", "+1 (555) 867-5309"),
	)

	conv := f.convs.get("acc-1", "user-9")
	require.NotNil(t, conv)
	assert.Equal(t, entity.StateAIChat, conv.State)
	assert.Equal(t, "a@b.com", conv.Collected.Email)
	assert.Equal(t, "+15558675309", conv.Collected.Phone)
	assert.Equal(t, 3, f.dispatcher.callCount())

	// One user turn appended per event, in order
	history, err := f.msgs.ListByConversation(context.Background(), conv.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, entity.RoleUser, msg.Role)
		assert.Equal(t, i, msg.Index)
	}
}

func TestPipelineDuplicateEventProcessedOnce(t *testing.T) {
	f := newPipelineFixture(t)

	f.submitAndDrain(t,
		dmBody("mid.dup", "hello"),
		dmBody("mid.dup", "hello"),
	)

	assert.Equal(t, 1, f.dispatcher.callCount())

	conv := f.convs.get("acc-1", "user-9")
	require.NotNil(t, conv)
	history, err := f.msgs.ListByConversation(context.Background(), conv.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPipelineConcurrentDuplicatesSingleDispatch(t *testing.T) {
	f := newPipelineFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.pipeline.Submit(context.Background(), dmBody("mid.race", "hello"))
		}()
	}
	wg.Wait()
	require.NoError(t, f.seq.Close(context.Background()))

	assert.Equal(t, 1, f.dispatcher.callCount())
}

func TestPipelineCompletedAbsorbsButAppends(t *testing.T) {
	f := newPipelineFixture(t)

	// Opt out from greeting goes straight to completed; the follow-up
	// runs after it on the same conversation key.
	f.submitAndDrain(t,
		dmBody("mid.1", "stop"),
		dmBody("mid.2", "hello again"),
	)

	conv := f.convs.get("acc-1", "user-9")
	require.NotNil(t, conv)
	assert.Equal(t, entity.StateCompleted, conv.State)

	// The follow-up is appended for audit but absorbed: only the
	// opt-out turn reached the dispatcher.
	history, err := f.msgs.ListByConversation(context.Background(), conv.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 1, f.dispatcher.callCount())
}

func TestPipelineClosedSequencerReleasesEventID(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.seq.Close(context.Background()))

	require.NoError(t, f.pipeline.Submit(context.Background(), dmBody("mid.late", "hello")))
	assert.Equal(t, 0, f.dispatcher.callCount())

	// The id must not stay in the seen-set: a redelivery against a live
	// instance would otherwise be swallowed as a duplicate.
	assert.False(t, f.filter.contains("mid.late"))
}

func TestPipelineAIHandoffCompletesConversation(t *testing.T) {
	f := newPipelineFixture(t)
	f.dispatcher.handoff = true
	f.accounts.acc.Automation.CaptureEmail = false
	f.accounts.acc.Automation.CapturePhone = false

	f.submitAndDrain(t,
		dmBody("mid.1", "hello"),
	)

	conv := f.convs.get("acc-1", "user-9")
	require.NotNil(t, conv)
	assert.Equal(t, entity.StateCompleted, conv.State)
}

func TestPipelineUnknownAccountDropped(t *testing.T) {
	f := newPipelineFixture(t)

	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "ig-other",
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {"mid": "mid.z", "text": "hi"}
			}]
		}]
	}`)

	f.submitAndDrain(t, body)

	assert.Equal(t, 0, f.dispatcher.callCount())
	assert.Nil(t, f.convs.get("acc-1", "user-9"))
}
