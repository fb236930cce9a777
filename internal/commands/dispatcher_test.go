package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-tracking/internal/models"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendCommand(ctx context.Context, imei string, command models.Command) error {
	args := m.Called(ctx, imei, command)
	return args.Error(0)
}

type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) InsertCommand(ctx context.Context, record models.CommandRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDispatcher_InitialStateIsIdle(t *testing.T) {
	d := NewDispatcher(new(MockSender), nil, nil, quietLogger())

	st := d.State("123456789")
	assert.Equal(t, models.CommandIdle, st.Status)
	assert.Equal(t, "123456789", st.IMEI)
	assert.False(t, st.Sending())
}

func TestDispatcher_Success(t *testing.T) {
	sender := new(MockSender)
	audit := new(MockAuditLog)
	pub := &recordingPublisher{}
	d := NewDispatcher(sender, audit, pub, quietLogger())

	sender.On("SendCommand", mock.Anything, "123456789", models.CommandLock).Return(nil).Once()
	audit.On("InsertCommand", mock.Anything, mock.MatchedBy(func(rec models.CommandRecord) bool {
		_, err := uuid.Parse(rec.ID)
		return err == nil &&
			rec.IMEI == "123456789" &&
			rec.Command == models.CommandLock &&
			rec.Status == models.CommandSucceeded &&
			rec.IssuedBy == "user-1" &&
			rec.Error == ""
	})).Return(nil).Once()

	assert.True(t, d.Lock(context.Background(), "123456789", "user-1"))

	st := d.State("123456789")
	assert.Equal(t, models.CommandSucceeded, st.Status)
	assert.Empty(t, st.Error)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "tracking.commands.123456789", pub.subjects[0])
	var rec models.CommandRecord
	require.NoError(t, json.Unmarshal(pub.payloads[0], &rec))
	assert.Equal(t, models.CommandSucceeded, rec.Status)

	sender.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestDispatcher_ProviderFailureCapturesMessage(t *testing.T) {
	sender := new(MockSender)
	audit := new(MockAuditLog)
	d := NewDispatcher(sender, audit, nil, quietLogger())

	sender.On("SendCommand", mock.Anything, "123456789", models.CommandEngineOff).
		Return(errors.New("send command: provider returned 500")).Once()
	audit.On("InsertCommand", mock.Anything, mock.MatchedBy(func(rec models.CommandRecord) bool {
		return rec.Status == models.CommandFailed && rec.Error == "send command: provider returned 500"
	})).Return(nil).Once()

	assert.False(t, d.EngineOff(context.Background(), "123456789", "user-1"))

	st := d.State("123456789")
	assert.Equal(t, models.CommandFailed, st.Status)
	assert.Equal(t, "send command: provider returned 500", st.Error)

	// A later success clears the message.
	sender.On("SendCommand", mock.Anything, "123456789", models.CommandEngineOn).Return(nil).Once()
	audit.On("InsertCommand", mock.Anything, mock.Anything).Return(nil).Once()
	assert.True(t, d.EngineOn(context.Background(), "123456789", "user-1"))
	assert.Empty(t, d.State("123456789").Error)

	sender.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestDispatcher_UnknownCommandSkipsProvider(t *testing.T) {
	sender := new(MockSender)
	d := NewDispatcher(sender, nil, nil, quietLogger())

	err := d.Dispatch(context.Background(), "123456789", models.Command("self_destruct"), "user-1")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	st := d.State("123456789")
	assert.Equal(t, models.CommandFailed, st.Status)
	assert.Contains(t, st.Error, "self_destruct")
	sender.AssertNotCalled(t, "SendCommand", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_MissingIMEI(t *testing.T) {
	sender := new(MockSender)
	d := NewDispatcher(sender, nil, nil, quietLogger())

	assert.ErrorIs(t, d.Dispatch(context.Background(), "", models.CommandLocate, "user-1"), ErrMissingIMEI)
	sender.AssertNotCalled(t, "SendCommand", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_OneCommandInFlightPerDevice(t *testing.T) {
	sender := new(MockSender)
	d := NewDispatcher(sender, nil, nil, quietLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	sender.On("SendCommand", mock.Anything, "111", models.CommandLock).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil).Once()
	sender.On("SendCommand", mock.Anything, "222", models.CommandLocate).Return(nil).Once()

	result := make(chan bool, 1)
	go func() { result <- d.Lock(context.Background(), "111", "user-1") }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first command never reached the provider")
	}
	assert.True(t, d.State("111").Sending())

	// Second command to the same device is rejected without a provider call.
	err := d.Dispatch(context.Background(), "111", models.CommandUnlock, "user-2")
	assert.ErrorIs(t, err, ErrCommandInFlight)
	assert.Equal(t, ErrCommandInFlight.Error(), d.State("111").Error)
	assert.True(t, d.State("111").Sending())

	// Other devices are unaffected.
	assert.True(t, d.Locate(context.Background(), "222", "user-2"))

	close(release)
	assert.True(t, <-result)
	assert.Equal(t, models.CommandSucceeded, d.State("111").Status)
	assert.Empty(t, d.State("111").Error)

	sender.AssertNumberOfCalls(t, "SendCommand", 2)
}

func TestDispatcher_AuditFailureIsNotSurfaced(t *testing.T) {
	sender := new(MockSender)
	audit := new(MockAuditLog)
	d := NewDispatcher(sender, audit, nil, quietLogger())

	sender.On("SendCommand", mock.Anything, "123", models.CommandUnlock).Return(nil).Once()
	audit.On("InsertCommand", mock.Anything, mock.Anything).Return(errors.New("mongo down")).Once()

	assert.True(t, d.Unlock(context.Background(), "123", "user-1"))
	audit.AssertExpectations(t)
}
