package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiomirchi/radio-mirchi/internal/audio"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
)

const testMissionID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

type testRig struct {
	missions *fakeMissions
	dialogue *fakeDialogue
	speech   *fakeSpeech
	sender   *fakeSender
}

func newRig() *testRig {
	return &testRig{
		missions: &fakeMissions{mission: readyMission(testMissionID)},
		dialogue: &fakeDialogue{limit: 1, change: 10},
		speech:   &fakeSpeech{audioBytes: 10000, transcript: "hello from the field"},
		sender:   &fakeSender{},
	}
}

func (r *testRig) deps() Deps {
	return Deps{Missions: r.missions, Dialogue: r.dialogue, Speech: r.speech}
}

func testConfig() Config {
	return Config{ErrorBackoff: 10 * time.Millisecond, AudioChunk: 4096}
}

func newTestSession(t *testing.T, r *testRig, config Config) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), testMissionID, r.sender, r.deps(), config, nil, nil)
	require.NoError(t, err)
	return s
}

func runSession(s *Session) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestNewSessionValidation(t *testing.T) {
	r := newRig()

	_, err := NewSession(context.Background(), testMissionID, nil, r.deps(), testConfig(), nil, nil)
	assert.Error(t, err)

	_, err = NewSession(context.Background(), testMissionID, r.sender, Deps{Missions: r.missions}, testConfig(), nil, nil)
	assert.Error(t, err)

	bad := testConfig()
	bad.Voice.Threshold = 2
	_, err = NewSession(context.Background(), testMissionID, r.sender, r.deps(), bad, nil, nil)
	assert.Error(t, err)
}

func TestSessionMissionNotReady(t *testing.T) {
	tests := []struct {
		name    string
		mission *mission.Mission
	}{
		{name: "still generating", mission: &mission.Mission{ID: testMissionID, Status: mission.StatusStage1}},
		{name: "failed", mission: &mission.Mission{ID: testMissionID, Status: mission.StatusFailed}},
		{name: "missing", mission: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			r.missions.mission = tt.mission
			s := newTestSession(t, r, testConfig())

			err := waitErr(t, runSession(s))
			assert.ErrorIs(t, err, mission.ErrNotReady)

			msgs := r.sender.All()
			require.Len(t, msgs, 1)
			assert.Equal(t, protocol.TypeError, msgs[0].Type)
			assert.Equal(t, "Error: Mission not ready.", msgs[0].String())
			assert.Empty(t, r.dialogue.Requests())
		})
	}
}

func TestSessionLoadError(t *testing.T) {
	r := newRig()
	r.missions.err = errors.New("database is locked")
	s := newTestSession(t, r, testConfig())

	err := waitErr(t, runSession(s))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Len(t, r.sender.Messages(protocol.TypeError), 1)
}

func TestSessionStreamsDialogue(t *testing.T) {
	r := newRig()
	r.dialogue.limit = 2
	s := newTestSession(t, r, testConfig())
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return len(r.sender.Messages(protocol.TypeDialogue)) == 3
	}, 5*time.Second, 10*time.Millisecond)
	// the third refill blocks in the generator
	require.Eventually(t, func() bool {
		return len(r.dialogue.Requests()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))

	msgs := r.sender.All()
	require.GreaterOrEqual(t, len(msgs), 5)
	assert.Equal(t, protocol.TypeStatus, msgs[0].Type)
	assert.Equal(t, "live", msgs[0].Status)
	assert.Equal(t, protocol.TypeListeners, msgs[1].Type)
	assert.Equal(t, 0, *msgs[1].AwakenedListeners)

	lines := r.sender.Messages(protocol.TypeDialogue)
	assert.Equal(t, "Anchor", lines[0].Speaker)
	assert.Equal(t, "Good evening, citizens.", lines[0].Line)
	assert.Equal(t, "Reporter", lines[1].Speaker)
	assert.Equal(t, "Anchor", lines[2].Speaker)

	assert.Equal(t, []string{"male", "female", "male"}, r.speech.Genders())

	chunks := r.sender.Chunks()
	require.Len(t, chunks, 9)
	assert.Len(t, chunks[0], 4096)
	assert.Len(t, chunks[2], 10000-2*4096)

	reqs := r.dialogue.Requests()
	assert.Equal(t, "Show & Character Briefing", reqs[0].Briefing)
	assert.Len(t, reqs[0].Speakers, 2)
	assert.Empty(t, reqs[0].UserDialogue)
	// spoken lines and the line still queued are both in the history
	assert.Equal(t, []string{
		"Anchor: Good evening, citizens.",
		"Reporter: The rain is lovely today.",
	}, reqs[1].History)
	assert.Empty(t, r.missions.changes)

	info := s.GetInfo()
	assert.Equal(t, uint64(3), info.LinesSpoken)
	assert.Equal(t, uint64(2), info.Batches)
}

func TestSessionSendFailureStops(t *testing.T) {
	r := newRig()
	r.sender.failAudio = true
	s := newTestSession(t, r, testConfig())

	err := waitErr(t, runSession(s))
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestSessionSpeechErrorBacksOff(t *testing.T) {
	r := newRig()
	r.speech.speakErr = errors.New("tts unavailable")
	r.dialogue.limit = 0
	s := newTestSession(t, r, testConfig())
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return s.GetInfo().Errors >= 2
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))
	assert.Empty(t, r.sender.Chunks())
	// the line text still goes out before its audio fails
	assert.NotEmpty(t, r.sender.Messages(protocol.TypeDialogue))
}

func TestSessionGenerationErrorBacksOff(t *testing.T) {
	r := newRig()
	r.dialogue.err = errors.New("quota exceeded")
	s := newTestSession(t, r, testConfig())
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return len(r.dialogue.Requests()) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))
	assert.Empty(t, r.sender.Messages(protocol.TypeDialogue))
}

func TestSessionFirstGenerationErrorWaitsBeforeRetry(t *testing.T) {
	r := newRig()
	r.dialogue.err = errors.New("quota exceeded")
	config := testConfig()
	config.ErrorBackoff = time.Minute
	s := newTestSession(t, r, config)
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return s.GetInfo().Errors >= 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, r.dialogue.Requests(), 1)
	assert.Equal(t, uint64(1), s.GetInfo().Errors)

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))
}

func TestSessionAnsweredUserTextDoesNotCutBackoff(t *testing.T) {
	r := newRig()
	r.speech.speakErr = errors.New("tts unavailable")
	r.dialogue.limit = 0
	config := testConfig()
	config.ErrorBackoff = time.Minute
	s := newTestSession(t, r, config)
	s.HandleUserText("the rain is a lie", "text")
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return len(r.speech.Genders()) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// the failed line waits out the full backoff
	assert.Len(t, r.speech.Genders(), 1)
	assert.Zero(t, len(s.wake))

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))
}

func TestSessionUserDialogueUpdatesListeners(t *testing.T) {
	r := newRig()
	s := newTestSession(t, r, testConfig())
	s.HandleUserText("  the rain is a lie  ", "text")
	errCh := runSession(s)

	require.Eventually(t, func() bool {
		return len(r.sender.Messages(protocol.TypeListeners)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.NoError(t, waitErr(t, errCh))

	reqs := r.dialogue.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "the rain is a lie", reqs[0].UserDialogue)
	assert.Contains(t, reqs[0].History, UserSpeakerName+": the rain is a lie")
	// the statement is consumed by the first batch
	if len(reqs) > 1 {
		assert.Empty(t, reqs[1].UserDialogue)
	}

	assert.Equal(t, []float64{10}, r.missions.changes)

	update := r.sender.Messages(protocol.TypeListeners)[1]
	assert.Equal(t, 1000, *update.AwakenedListeners)
	assert.Equal(t, 10.0, *update.AwakenedListenersChange)
	assert.Equal(t, 1000, s.GetInfo().AwakenedListeners)
}

func TestHandleUserTextDropsQueueAndCapsHistory(t *testing.T) {
	r := newRig()
	config := testConfig()
	config.HistoryLimit = 3
	s := newTestSession(t, r, config)

	s.queue = []mission.DialogueLine{{SpeakerName: "Anchor", Line: "unspoken"}}
	s.HandleUserText("   ", "text")
	assert.Len(t, s.queue, 1)

	for _, text := range []string{"one", "two", "three", "four"} {
		s.HandleUserText(text, "text")
	}

	assert.Empty(t, s.queue)
	assert.Equal(t, []string{
		UserSpeakerName + ": two",
		UserSpeakerName + ": three",
		UserSpeakerName + ": four",
	}, s.history)
	assert.Len(t, s.pendingUser, 4)
	assert.Equal(t, uint64(4), s.GetInfo().UserMessages)
}

func TestPopulateDiscardsStaleBatch(t *testing.T) {
	r := newRig()
	s := newTestSession(t, r, testConfig())
	s.result = r.missions.mission.GenerationResult
	s.briefing = r.missions.mission.DialoguePrompt

	r.dialogue.onGenerate = func() { s.HandleUserText("wait, listen", "text") }
	require.NoError(t, s.populate(context.Background()))

	assert.Empty(t, s.queue)
	assert.Equal(t, []string{"wait, listen"}, s.pendingUser)
	assert.Equal(t, uint64(1), s.batches)
}

func TestPopulateQueuesHistoryForNextRequest(t *testing.T) {
	r := newRig()
	r.dialogue.limit = 0
	s := newTestSession(t, r, testConfig())
	s.result = r.missions.mission.GenerationResult

	require.NoError(t, s.populate(context.Background()))
	require.Len(t, s.queue, 2)
	require.NoError(t, s.populate(context.Background()))

	reqs := r.dialogue.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{
		"Anchor: Good evening, citizens.",
		"Reporter: The rain is lovely today.",
	}, reqs[1].History)
	assert.Len(t, s.queue, 4)
}

func squareWave(samples int, amplitude int16) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = amplitude
		} else {
			pcm[i] = -amplitude
		}
	}
	return audio.SamplesToBytes(pcm)
}

func TestSessionVoiceInput(t *testing.T) {
	r := newRig()
	s := newTestSession(t, r, testConfig())
	defer s.Stop()

	// one second of speech then one second of silence at 16kHz
	speech := squareWave(16000, 20000)
	for i := 0; i < len(speech); i += 3200 {
		s.HandleAudio(speech[i : i+3200])
	}
	s.HandleAudio(make([]byte, 32000))

	require.Eventually(t, func() bool {
		return len(r.sender.Messages(protocol.TypeTranscript)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello from the field", r.sender.Messages(protocol.TypeTranscript)[0].Text)

	require.Eventually(t, func() bool {
		return s.GetInfo().UserMessages == 1
	}, 5*time.Second, 10*time.Millisecond)

	r.speech.mu.Lock()
	require.Len(t, r.speech.wavs, 1)
	info, err := audio.GetWAVInfo(r.speech.wavs[0])
	r.speech.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), info.SampleRate)

	voice := s.GetInfo().Voice
	assert.Equal(t, uint64(1), voice.Segmenter.Utterances)
	assert.Equal(t, uint64(1), voice.Transcribed)
}

func TestSessionVoiceEndFlushes(t *testing.T) {
	r := newRig()
	s := newTestSession(t, r, testConfig())
	defer s.Stop()

	s.HandleAudio(squareWave(8192, 20000))
	assert.Empty(t, r.sender.Messages(protocol.TypeTranscript))

	s.HandleVoiceEnd()
	require.Eventually(t, func() bool {
		return len(r.sender.Messages(protocol.TypeTranscript)) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionVoiceEndWithoutSpeech(t *testing.T) {
	r := newRig()
	s := newTestSession(t, r, testConfig())
	defer s.Stop()

	s.HandleAudio(make([]byte, 8192))
	s.HandleVoiceEnd()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.sender.Messages(protocol.TypeTranscript))
	assert.Equal(t, uint64(0), s.GetInfo().UserMessages)
}
