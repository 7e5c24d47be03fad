package encoding

import (
	"reflect"
	"sync"
	"testing"

	"github.com/brainlesscar/rerelay/common"
)

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "hello world"},
		{"int", 12345},
		{"int64", int64(9876543210)},
		{"float64", 3.14159},
		{"bool", true},
		{"slice", []int{1, 2, 3, 4, 5}},
		{"map", map[string]interface{}{"entity": "world/imu", "tick": 30}},
		{"nested", map[string]interface{}{
			"store": map[string]interface{}{
				"id":   123,
				"kind": "recording",
			},
			"items": []string{"a", "b", "c"},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if len(data) == 0 {
				t.Error("Expected non-empty result")
			}
		})
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 100
	iterations := 1000

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				data := map[string]interface{}{
					"goroutine": id,
					"iteration": j,
					"data":      "some test data",
				}
				result, err := Marshal(data)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				if len(result) == 0 {
					t.Error("Expected non-empty result")
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestUnmarshal_MapWithStrings(t *testing.T) {
	original := map[string]interface{}{
		"entity": "world/camera/rgb",
		"app":    "brainlesscar",
	}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result map[string]string
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for key, val := range original {
		if result[key] != val {
			t.Errorf("Value for key %q: got %q, want %q", key, result[key], val)
		}
	}
}

func TestMarshalMsg_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  common.Msg
	}{
		{
			name: "store_info",
			msg: common.Msg{
				Kind:          common.KindSetStoreInfo,
				StoreID:       "rec-1",
				StoreKind:     common.StoreRecording,
				ApplicationID: "brainlesscar",
				LogTime:       1700000000000000000,
				LogTick:       1,
			},
		},
		{
			name: "arrow_with_binary_payload",
			msg: common.Msg{
				Kind:       common.KindArrow,
				StoreID:    "rec-1",
				EntityPath: "world/lidar",
				RowID:      "01HZX3M8Q9V6F2K7T4R1N5B0CD",
				LogTime:    1700000000000000001,
				LogTick:    2,
				Payload:    []byte{0x00, 0x01, 0x02, 0xFF},
			},
		},
		{
			name: "activation",
			msg: common.Msg{
				Kind:        common.KindBlueprintActivation,
				StoreID:     "bp-1",
				StoreKind:   common.StoreBlueprint,
				MakeDefault: true,
				MakeActive:  true,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := MarshalMsg(tc.msg)
			if err != nil {
				t.Fatalf("MarshalMsg failed: %v", err)
			}
			got, err := UnmarshalMsg(data)
			if err != nil {
				t.Fatalf("UnmarshalMsg failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.msg) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tc.msg)
			}
		})
	}
}

func TestUnmarshalMsg_Garbage(t *testing.T) {
	if _, err := UnmarshalMsg([]byte{0xc1, 0xc1, 0xc1}); err == nil {
		t.Fatal("expected error for invalid msgpack")
	}
}

func BenchmarkMarshal(b *testing.B) {
	data := map[string]interface{}{
		"id":        12345,
		"entity":    "world/camera/rgb",
		"values":    []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		"nested":    map[string]string{"key": "value"},
		"timestamp": int64(1234567890),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(data)
	}
}

func BenchmarkMarshal_Parallel(b *testing.B) {
	data := map[string]interface{}{
		"id":        12345,
		"entity":    "world/camera/rgb",
		"values":    []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		"nested":    map[string]string{"key": "value"},
		"timestamp": int64(1234567890),
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = Marshal(data)
		}
	})
}
