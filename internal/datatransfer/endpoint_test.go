package datatransfer

import "testing"

func TestParsePORT(t *testing.T) {
	ip, port, err := ParsePORT("127,0,0,1,19,136")
	if err != nil {
		t.Fatal(err)
	}
	if ip != "127.0.0.1" || port != 19*256+136 {
		t.Fatalf("got ip=%q port=%d", ip, port)
	}
}

func TestParsePORTMalformed(t *testing.T) {
	if _, _, err := ParsePORT("1,2,3"); err == nil {
		t.Fatal("expected error for malformed PORT argument")
	}
}

func TestParseEPRTIPv4(t *testing.T) {
	proto, addr, port, err := ParseEPRT("|1|132.235.1.2|6275|")
	if err != nil {
		t.Fatal(err)
	}
	if proto != 1 || addr != "132.235.1.2" || port != 6275 {
		t.Fatalf("got proto=%d addr=%q port=%d", proto, addr, port)
	}
}

func TestParseEPRTIPv6(t *testing.T) {
	proto, addr, port, err := ParseEPRT("|2|::1|6275|")
	if err != nil {
		t.Fatal(err)
	}
	if proto != 2 || addr != "::1" || port != 6275 {
		t.Fatalf("got proto=%d addr=%q port=%d", proto, addr, port)
	}
}

func TestFormatPASVReply(t *testing.T) {
	got := FormatPASVReply([4]byte{127, 0, 0, 1}, 6275)
	want := "Entering Passive Mode (127,0,0,1,24,131)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestListenPassiveKernelAssigned(t *testing.T) {
	ln, err := ListenPassive("127.0.0.1", PassivePortRange{})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if ln.Addr() == nil {
		t.Fatal("expected a bound address")
	}
}
