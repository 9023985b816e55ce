package extract

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/sigflow/signature"
)

var meetingSig = signature.MustParse(
	`chatMessage, currentDate:datetime -> subject, foundMeeting:boolean, ticketNumber?:number, datesMentioned:datetime[], messageType:class "reminder, follow-up, meeting, other"`)

const meetingResponse = `Sure, here is the analysis.

Subject: Call tomorrow or Friday
Found Meeting: true
Ticket Number: 300
Dates Mentioned:
- 2024-01-16 10:00 America/New_York
- 2024-01-17 10:00 America/New_York
Message Type: meeting
`

func raws(st State) map[string]string {
	out := make(map[string]string)
	for _, f := range st.Fields {
		out[f.Field.Name()] = f.Raw
	}
	return out
}

func TestExtractText_Meeting(t *testing.T) {
	st := ExtractText(meetingSig.Outputs(), meetingResponse)
	assert.Equal(t, map[string]string{
		"subject":        "Call tomorrow or Friday",
		"foundMeeting":   "true",
		"ticketNumber":   "300",
		"datesMentioned": "- 2024-01-16 10:00 America/New_York\n- 2024-01-17 10:00 America/New_York",
		"messageType":    "meeting",
	}, raws(st))
	for _, f := range st.Fields {
		assert.Equal(t, Complete, f.Status, f.Field.Name())
	}
}

func TestExtract_SkippedFieldStaysPending(t *testing.T) {
	st := ExtractText(meetingSig.Outputs(), "Subject: hi\nFound Meeting: false\nDates Mentioned:\nMessage Type: other")
	tn, ok := st.Get("ticketNumber")
	require.True(t, ok)
	assert.Equal(t, Pending, tn.Status)
	assert.Empty(t, tn.Raw)

	dm, _ := st.Get("datesMentioned")
	assert.Equal(t, Complete, dm.Status)
	assert.Empty(t, dm.Raw)
}

func TestExtract_StreamEndsEarly(t *testing.T) {
	st := ExtractText(meetingSig.Outputs(), "Subject: hi\nFound Meeting: tr")
	fm, _ := st.Get("foundMeeting")
	assert.Equal(t, Complete, fm.Status)
	assert.Equal(t, "tr", fm.Raw)
	for _, name := range []string{"ticketNumber", "datesMentioned", "messageType"} {
		f, _ := st.Get(name)
		assert.Equal(t, Pending, f.Status, name)
	}
}

func TestExtract_SingleLineKeepsFirstLine(t *testing.T) {
	fields := signature.MustParse("q -> ok:boolean, note").Outputs()
	st := ExtractText(fields, "Ok:\n\n  true  \nbecause reasons\nNote: line one\nline two\n\n")
	assert.Equal(t, map[string]string{"ok": "true", "note": "line one\nline two"}, raws(st))
}

func TestExtract_MarkerVariants(t *testing.T) {
	fields := signature.MustParse("q -> subject, foundMeeting:boolean, messageType").Outputs()
	st := ExtractText(fields, "  **Subject:** hello\n**found meeting**: TRUE\nMESSAGE TYPE:other")
	assert.Equal(t, map[string]string{"subject": "hello", "foundMeeting": "TRUE", "messageType": "other"}, raws(st))
}

func TestExtract_OnlyLaterFieldsAreMarkers(t *testing.T) {
	fields := signature.MustParse("q -> subject, answer").Outputs()
	st := ExtractText(fields, "Answer: 1\nSubject: late")
	s, _ := st.Get("subject")
	a, _ := st.Get("answer")
	assert.Equal(t, Pending, s.Status)
	assert.Equal(t, "1\nSubject: late", a.Raw, "earlier titles are content once a later field is open")
}

func TestExtract_TitlePrefixNeedsColon(t *testing.T) {
	fields := signature.MustParse("q -> date:date, dateRange").Outputs()
	st := ExtractText(fields, "Date Range: soon\n")
	d, _ := st.Get("date")
	assert.Equal(t, Pending, d.Status)
	r, _ := st.Get("dateRange")
	assert.Equal(t, "soon", r.Raw)
}

func TestExtract_ListenersFireInOrder(t *testing.T) {
	var events []string
	e := New(meetingSig.Outputs(), WithListener(func(c Completion) {
		events = append(events, c.Field.Name()+"="+c.Raw)
	}))

	e.Write("Subject: a\nFound Meet")
	assert.Empty(t, events, "subject closes only when the next marker line is complete")
	e.Write("ing: true\n")
	assert.Equal(t, []string{"subject=a"}, events)

	e.Write("Message Type: other\n")
	assert.Equal(t, []string{"subject=a", "foundMeeting=true"}, events)

	e.Finish()
	assert.Equal(t, []string{"subject=a", "foundMeeting=true", "messageType=other"}, events)
	assert.True(t, e.Finished())

	e.Write("Extra: ignored")
	e.Finish()
	assert.Len(t, events, 3)
	assert.NotContains(t, e.Raw(), "ignored")
}

func TestExtract_OnCompleteAfterConstruction(t *testing.T) {
	e := New(signature.MustParse("q -> a").Outputs())
	var got []Completion
	e.OnComplete(func(c Completion) { got = append(got, c) })
	e.Write("A: 1")
	e.Finish()
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "1", got[0].Raw)
}

func TestConsume(t *testing.T) {
	e := New(meetingSig.Outputs())
	ch := make(chan string, 3)
	ch <- "Subject: x\nFound "
	ch <- "Meeting: false\r\n"
	ch <- "Message Type: other"
	close(ch)

	require.NoError(t, e.Consume(context.Background(), ch))
	assert.True(t, e.Finished())
	st := e.Snapshot()
	assert.Equal(t, "false", raws(st)["foundMeeting"])
	assert.Equal(t, "other", raws(st)["messageType"])
}

func TestConsume_CancelStopsNotifications(t *testing.T) {
	var fired int
	e := New(meetingSig.Outputs(), WithListener(func(Completion) { fired++ }))
	ch := make(chan string, 1)
	ch <- "Subject: x\n"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Consume(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.Finished())
	assert.Zero(t, fired)
}

func TestConsume_CancelFromListenerStopsLaterFields(t *testing.T) {
	fields := signature.MustParse(`q -> alpha, beta, gamma`).Outputs()

	// 取消后即使通道里还有已排队的增量也不能再通知
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		var names []string
		e := New(fields, WithListener(func(c Completion) {
			names = append(names, c.Field.Name())
			if c.Field.Name() == "alpha" {
				cancel()
			}
		}))
		ch := make(chan string, 3)
		ch <- "Alpha: a\n"
		ch <- "Beta: b\n"
		ch <- "Gamma: c\n"
		close(ch)

		err := e.Consume(ctx, ch)
		cancel()
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, []string{"alpha"}, names, "iteration %d", i)
	}
}

func TestWithContext_SameIncrement(t *testing.T) {
	fields := signature.MustParse(`q -> alpha, beta, gamma`).Outputs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var names []string
	e := New(fields, WithContext(ctx), WithListener(func(c Completion) {
		names = append(names, c.Field.Name())
		cancel()
	}))
	e.Write("Alpha: a\nBeta: b\nGamma: c\n")
	e.Finish()

	assert.Equal(t, []string{"alpha"}, names)
	st := e.Snapshot()
	assert.Equal(t, Complete, st.Fields[0].Status)
	assert.Equal(t, InProgress, st.Fields[2].Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "in_progress", InProgress.String())
	assert.Equal(t, "complete", Complete.String())
}

// 任意切块方式与整块输入得到相同的状态与相同的完成事件序列
func TestProperty_ChunkingInvariance(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lines := []string{"Preamble text"}
		for _, f := range meetingSig.Outputs() {
			if rapid.IntRange(0, 4).Draw(rt, "skip_"+f.Name()) == 0 {
				continue
			}
			value := rapid.StringMatching(`[a-zA-Z0-9 :\-]{0,12}`).Draw(rt, "value_"+f.Name())
			lines = append(lines, f.Title()+": "+value)
			if f.IsArray() {
				n := rapid.IntRange(0, 3).Draw(rt, "items_"+f.Name())
				for i := 0; i < n; i++ {
					lines = append(lines, "- item")
				}
			}
		}
		text := strings.Join(lines, rapid.SampledFrom([]string{"\n", "\r\n"}).Draw(rt, "eol"))
		if rapid.Bool().Draw(rt, "trailingNewline") {
			text += "\n"
		}

		var wholeEvents []string
		whole := New(meetingSig.Outputs(), WithListener(func(c Completion) {
			wholeEvents = append(wholeEvents, c.Field.Name()+"="+c.Raw)
		}))
		whole.Write(text)
		whole.Finish()

		cuts := rapid.SliceOfDistinct(rapid.IntRange(0, len(text)), rapid.ID[int]).Draw(rt, "cuts")
		sort.Ints(cuts)
		var chunkEvents []string
		var lastIndex = -1
		chunked := New(meetingSig.Outputs(), WithListener(func(c Completion) {
			assert.Greater(rt, c.Index, lastIndex, "completions fire in declared order")
			lastIndex = c.Index
			chunkEvents = append(chunkEvents, c.Field.Name()+"="+c.Raw)
		}))
		prev := 0
		for _, cut := range cuts {
			chunked.Write(text[prev:cut])
			prev = cut
		}
		chunked.Write(text[prev:])
		chunked.Finish()

		assert.Equal(rt, whole.Snapshot(), chunked.Snapshot())
		assert.Equal(rt, wholeEvents, chunkEvents)
		assert.Equal(rt, text, chunked.Raw())
	})
}

func TestExtract_OneRuneAtATime(t *testing.T) {
	whole := ExtractText(meetingSig.Outputs(), meetingResponse)
	e := New(meetingSig.Outputs())
	for _, r := range meetingResponse {
		e.Write(string(r))
	}
	e.Finish()
	assert.Equal(t, whole, e.Snapshot())
}
