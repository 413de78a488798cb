package arch

import "testing"

func TestPrctlSetGetRoundTrip(t *testing.T) {
	regs := &HostedSysRegs{}

	if err := Prctl(regs, ArchSetFS, 0xdead0000, nil); err != nil {
		t.Fatalf("ARCH_SET_FS: %v", err)
	}
	if err := Prctl(regs, ArchSetGS, 0xbeef0000, nil); err != nil {
		t.Fatalf("ARCH_SET_GS: %v", err)
	}

	var fs, gs uintptr
	if err := Prctl(regs, ArchGetFS, 1, &fs); err != nil {
		t.Fatalf("ARCH_GET_FS: %v", err)
	}
	if err := Prctl(regs, ArchGetGS, 1, &gs); err != nil {
		t.Fatalf("ARCH_GET_GS: %v", err)
	}

	if fs != 0xdead0000 {
		t.Errorf("fs = %#x, want 0xdead0000", fs)
	}
	if gs != 0xbeef0000 {
		t.Errorf("gs = %#x, want 0xbeef0000", gs)
	}
}

func TestPrctlGetRejectsNullAddr(t *testing.T) {
	regs := &HostedSysRegs{}
	if err := Prctl(regs, ArchGetFS, 0, nil); err == nil {
		t.Fatalf("expected ARCH_GET_FS with addr=NULL to be rejected")
	}
}

func TestPrctlRejectsUnimplementedCodes(t *testing.T) {
	regs := &HostedSysRegs{}
	for _, code := range []int64{ArchGetCPUID, ArchSetCPUID, ArchMapVDSOX32, ArchMapVDSO32, ArchMapVDSO64, 0x9999} {
		if err := Prctl(regs, code, 1, nil); err == nil {
			t.Errorf("code %#x: expected an error, got nil", code)
		}
	}
}
