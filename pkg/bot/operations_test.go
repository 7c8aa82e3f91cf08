package bot

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

func TestSendMessagePlacesResponse(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	client := newTestClient(t, api, nil)
	ctx := context.Background()

	message, err := client.SendMessage(ctx, snowflake(t, testChannelID), "hello there")
	if err != nil {
		t.Fatalf("SendMessage() error = %v, want nil", err)
	}
	if message.Content != "hello there" {
		t.Errorf("message content = %q, want %q", message.Content, "hello there")
	}
	if message.ChannelID != snowflake(t, testChannelID) {
		t.Errorf("message channel = %s, want %s", message.ChannelID, testChannelID)
	}

	cached, err := client.Cache().GetMessage(ctx, message.ChannelID, message.ID, false)
	if err != nil {
		t.Fatalf("GetMessage() error = %v, want nil", err)
	}
	if cached != message {
		t.Error("cached message is not the returned instance")
	}
}

func TestSendDMReusesChannel(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	client := newTestClient(t, api, nil)
	ctx := context.Background()
	userID := snowflake(t, testUserID)

	first, err := client.SendDM(ctx, userID, "knock knock")
	if err != nil {
		t.Fatalf("SendDM() error = %v, want nil", err)
	}
	second, err := client.SendDM(ctx, userID, "still there?")
	if err != nil {
		t.Fatalf("second SendDM() error = %v, want nil", err)
	}

	wantChannel := snowflake(t, "820000000000000001")
	if first.ChannelID != wantChannel || second.ChannelID != wantChannel {
		t.Errorf("dm channels = %s, %s, want both %s", first.ChannelID, second.ChannelID, wantChannel)
	}

	opened := 0
	for _, call := range api.snapshotCalls() {
		if call.method == http.MethodPost && call.path == "/users/@me/channels" {
			opened++
		}
	}
	if opened != 1 {
		t.Errorf("dm channel opened %d times, want 1", opened)
	}

	if channelID, ok := client.Cache().GetDMChannelID(userID); !ok || channelID != wantChannel {
		t.Errorf("GetDMChannelID() = (%s, %t), want (%s, true)", channelID, ok, wantChannel)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		freshCount  int
		oldCount    int
		wantDeleted int
		wantSkipped int
		wantBulks   []int
		wantSingles int
	}{
		{
			name:        "all past the horizon",
			oldCount:    2,
			wantSkipped: 2,
		},
		{
			name:        "bulk delete with skips",
			freshCount:  2,
			oldCount:    1,
			wantDeleted: 2,
			wantSkipped: 1,
			wantBulks:   []int{2},
		},
		{
			name:        "single fresh message",
			freshCount:  1,
			wantDeleted: 1,
			wantSingles: 1,
		},
		{
			name:        "chunking leaves a singleton",
			freshCount:  101,
			wantDeleted: 101,
			wantBulks:   []int{100},
			wantSingles: 1,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI(t)
			client := newTestClient(t, api, nil)
			ctx := context.Background()
			channelID := snowflake(t, testChannelID)

			now := time.Now()
			ids := make([]naff.Snowflake, 0, testCase.freshCount+testCase.oldCount)
			for i := 0; i < testCase.freshCount; i++ {
				ids = append(ids, snowflakeAt(now.Add(-time.Hour), uint64(i)))
			}
			for i := 0; i < testCase.oldCount; i++ {
				ids = append(ids, snowflakeAt(now.Add(-15*24*time.Hour), uint64(i)))
			}
			for _, id := range ids {
				doc := `{"id":"` + id.String() + `","channel_id":"` + testChannelID + `","content":"doomed"}`
				if _, err := client.Cache().PlaceMessageData([]byte(doc)); err != nil {
					t.Fatalf("PlaceMessageData() error = %v, want nil", err)
				}
			}

			deleted, skipped, err := client.Purge(ctx, channelID, ids)
			if err != nil {
				t.Fatalf("Purge() error = %v, want nil", err)
			}
			if deleted != testCase.wantDeleted || skipped != testCase.wantSkipped {
				t.Errorf("Purge() = (%d, %d), want (%d, %d)",
					deleted, skipped, testCase.wantDeleted, testCase.wantSkipped)
			}

			var bulks []int
			singles := 0
			for _, call := range api.snapshotCalls() {
				switch {
				case call.method == http.MethodPost && strings.HasSuffix(call.path, "/messages/bulk-delete"):
					bulks = append(bulks, int(gjson.GetBytes(call.body, "messages.#").Int()))
				case call.method == http.MethodDelete:
					singles++
				}
			}
			if !reflect.DeepEqual(bulks, testCase.wantBulks) {
				t.Errorf("bulk request sizes = %v, want %v", bulks, testCase.wantBulks)
			}
			if singles != testCase.wantSingles {
				t.Errorf("single deletes = %d, want %d", singles, testCase.wantSingles)
			}

			cutoff := time.Now().Add(-bulkDeleteHorizon)
			for _, id := range ids {
				_, err := client.Cache().GetMessage(ctx, channelID, id, false)
				if id.Time().Before(cutoff) {
					if err != nil {
						t.Errorf("GetMessage(%s) error = %v, want skipped messages to stay cached", id, err)
					}
					continue
				}
				if !errors.Is(err, naff.ErrNotCached) {
					t.Errorf("GetMessage(%s) error = %v, want %v", id, err, naff.ErrNotCached)
				}
			}
		})
	}
}
