package kafka

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestTuning_Bool(t *testing.T) {
	tu := Tuning{OptEnableAutoCommit: "false", OptCompressionCodec: ""}
	if !tu.Bool(OptEnableAutoCommit) {
		t.Error("any non-empty value must be true")
	}
	if tu.Bool(OptCompressionCodec) || tu.Bool("absent") {
		t.Error("empty or absent values must be false")
	}
}

func TestTuning_Millis(t *testing.T) {
	tu := Tuning{OptHeartbeatInterval: "250", OptRetryBackoff: "abc", OptFetchWaitMax: "-1"}

	d, ok, err := tu.Millis(OptHeartbeatInterval)
	if err != nil || !ok || d != 250*time.Millisecond {
		t.Errorf("Millis() = %v, %v, %v", d, ok, err)
	}
	if _, _, err := tu.Millis(OptRetryBackoff); err == nil {
		t.Error("expected parse error")
	}
	if _, _, err := tu.Millis(OptFetchWaitMax); err == nil {
		t.Error("expected negative duration error")
	}
	if _, ok, err := tu.Millis("unset"); ok || err != nil {
		t.Errorf("unset key: ok=%v err=%v", ok, err)
	}
}

func TestTuning_StartOffset(t *testing.T) {
	for _, v := range []string{"", "earliest", "smallest", "latest", "LARGEST"} {
		if _, err := (Tuning{OptAutoOffsetReset: v}).StartOffset(); err != nil {
			t.Errorf("StartOffset(%q) error = %v", v, err)
		}
	}
	if _, err := (Tuning{OptAutoOffsetReset: "middle"}).StartOffset(); err == nil {
		t.Error("expected error for unsupported reset policy")
	}
}

func TestTuning_ConsumerOptions(t *testing.T) {
	tu := Tuning{
		OptHeartbeatInterval: "250",
		OptRetryBackoff:      "250",
		OptFetchMinBytes:     "100",
		OptFetchMaxBytes:     "2097152",
		OptFetchWaitMax:      "1000",
		OptAutoOffsetReset:   "earliest",
	}
	opts, err := tu.ConsumerOptions()
	if err != nil {
		t.Fatalf("ConsumerOptions() error = %v", err)
	}
	if len(opts) != 6 {
		t.Errorf("expected 6 options, got %d", len(opts))
	}
}

func TestTuning_ConsumerOptions_JoinsErrors(t *testing.T) {
	_, err := Tuning{OptFetchMinBytes: "x", OptFetchWaitMax: "y"}.ConsumerOptions()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{OptFetchMinBytes, OptFetchWaitMax} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to mention %s: %v", key, err)
		}
	}
}

func TestTuning_ProducerOptions(t *testing.T) {
	tests := []struct {
		name    string
		tuning  Tuning
		want    int
		wantErr bool
	}{
		{"empty", Tuning{}, 0, false},
		{"snappy leader acks", Tuning{OptCompressionCodec: "snappy", OptRequiredAcks: "1"}, 3, false},
		{"all acks with linger", Tuning{OptRequiredAcks: "-1", OptQueueBufferingMax: "1000", OptBatchNumMessages: "10000"}, 3, false},
		{"unknown codec", Tuning{OptCompressionCodec: "brotli"}, 0, true},
		{"bad acks", Tuning{OptRequiredAcks: "2"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.tuning.ProducerOptions()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ProducerOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(opts) != tt.want {
				t.Errorf("expected %d options, got %d", tt.want, len(opts))
			}
		})
	}
}

func TestTuning_Unused(t *testing.T) {
	tu := Tuning{
		OptEventCB:             "1",
		OptAPIVersionRequest:   "",
		OptSocketBlockingMaxMs: "100",
		OptQueuedMinMessages:   "100",
		OptGroupID:             "g",
		OptHeartbeatInterval:   "250",
		OptCompressionCodec:    "snappy",
	}
	want := []string{OptEventCB, OptQueuedMinMessages, OptSocketBlockingMaxMs}
	if got := tu.Unused(); !reflect.DeepEqual(got, want) {
		t.Errorf("Unused() = %v, want %v", got, want)
	}
}
