package servicedef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

func TestDecodeResultMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"result","test":{"name":"a","index":2,"phase":3,"status":1,"message":"boom","stack":null,"properties":{}}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Test)
	assert.Equal(t, MessageTypeResult, m.Type)
	assert.Equal(t, "a", m.Test.Name)
	assert.Equal(t, 2, m.Test.Index)
	assert.Equal(t, TestPhaseComplete, m.Test.Phase)
	assert.Equal(t, TestStatusFail, m.Test.Status)
	assert.Equal(t, ldvalue.NewOptionalString("boom"), m.Test.Message)
	assert.False(t, m.Test.Stack.IsDefined())
}

func TestDecodeCompleteMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"complete","tests":[],"status":{"status":2,"message":null,"stack":null}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Status)
	assert.Equal(t, SuiteStatusTimeout, m.Status.Status)
	assert.Len(t, m.Tests, 0)
}

func TestDecodeControlMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"getmessages"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeGetMessages, m.Type)
	assert.False(t, m.IsEvent())
}

func TestDecodeRejectsInvalidMessages(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{}`,
		`{"type":"bogus"}`,
		`{"type":"result"}`,
		`{"type":"result","test":null}`,
		`{"type":"test_state","test":{"name":"a","index":0,"status":0}}`,
		`{"type":"test_state","test":{"name":"a","index":1,"status":7}}`,
		`{"type":"complete","tests":[]}`,
		`{"type":"complete","tests":[],"status":{"status":5}}`,
	} {
		t.Run(data, func(t *testing.T) {
			_, err := DecodeMessage([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestEncodedMessagesAreAccepted(t *testing.T) {
	snapshot := TestSnapshot{
		Name:       "x",
		Index:      1,
		Phase:      TestPhaseComplete,
		Status:     TestStatusTimeout,
		Message:    ldvalue.NewOptionalString("Test timed out"),
		Properties: ldvalue.ObjectBuild().Set("timeout", ldvalue.Int(50)).Build(),
	}
	messages := []Message{
		{Type: MessageTypeStart, Properties: ldvalue.ObjectBuild().Set("explicit_done", ldvalue.Bool(true)).Build()},
		{Type: MessageTypeTestState, Test: &snapshot},
		{Type: MessageTypeResult, Test: &snapshot},
		{Type: MessageTypeComplete, Tests: []TestSnapshot{snapshot}, Status: &SuiteStatus{Status: SuiteStatusOK}},
		{Type: MessageTypeError, Message: ldvalue.NewOptionalString("uncaught")},
	}
	for _, m := range messages {
		t.Run(m.Type, func(t *testing.T) {
			data, err := EncodeMessage(m)
			require.NoError(t, err)
			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, m.Type, decoded.Type)
			assert.Equal(t, m.String(), decoded.String())
		})
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "HAS_RESULT", TestPhaseHasResult.String())
	assert.Equal(t, "NOTRUN", TestStatusNotRun.String())
	assert.Equal(t, "ERROR", SuiteStatusError.String())
	assert.Equal(t, "TestStatus(9)", TestStatus(9).String())
}
