package syscallno

import "testing"

func TestEncodingThresholdCalls(t *testing.T) {
	for _, num := range []uint64{Open, Stat, Readdir, Mkdir, Unlink, Rmdir, Rename, Getcwd, Chdir, Mount, Unmount} {
		if got := Encoding(num); got != EncThreshold {
			t.Errorf("Encoding(%s) = %v, want EncThreshold", Name(num), got)
		}
	}
}

func TestEncodingSignedNegativeCalls(t *testing.T) {
	for _, num := range []uint64{Write, Read, Close, Exit, Getpid, Sleep} {
		if got := Encoding(num); got != EncSignedNegative {
			t.Errorf("Encoding(%s) = %v, want EncSignedNegative", Name(num), got)
		}
	}
}

func TestNameKnownAndUnknown(t *testing.T) {
	if Name(Open) != "OPEN" {
		t.Fatalf("Name(Open) = %q, want OPEN", Name(Open))
	}
	if Name(0xFFFF) != "" {
		t.Fatalf("Name(unknown) = %q, want empty string", Name(0xFFFF))
	}
}

func TestNumbersAreUnique(t *testing.T) {
	seen := map[uint64]string{}
	for num, name := range names {
		if other, ok := seen[num]; ok && other != name {
			t.Fatalf("number %d used by both %s and %s", num, other, name)
		}
		seen[num] = name
	}
}
