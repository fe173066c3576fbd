package audio

import "testing"

func TestOutputFormatFallback(t *testing.T) {
	cases := []struct {
		in   SampleFormat
		want SampleFormat
	}{
		{SampleFormatU8, SampleFormatU8},
		{SampleFormatS16, SampleFormatS16},
		{SampleFormatS16P, SampleFormatS16},
		{SampleFormatS32P, SampleFormatS32},
		{SampleFormatFltP, SampleFormatFlt},
		{SampleFormatDbl, SampleFormatFlt},
		{SampleFormatDblP, SampleFormatFlt},
		{SampleFormatS64, SampleFormatFlt},
		{SampleFormat("bogus"), SampleFormatFlt},
	}
	for _, tc := range cases {
		t.Run(string(tc.in), func(t *testing.T) {
			if got := OutputFormat(tc.in); got != tc.want {
				t.Fatalf("OutputFormat(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestOutputLayoutFallback(t *testing.T) {
	cases := []struct {
		in   ChannelLayout
		want ChannelLayout
	}{
		{LayoutMono, LayoutMono},
		{LayoutStereo, LayoutStereo},
		{Layout5_1, LayoutStereo},
		{Layout7_1, LayoutStereo},
		{ChannelLayout("9c"), LayoutStereo},
		{LayoutNone, LayoutStereo},
	}
	for _, tc := range cases {
		if got := OutputLayout(tc.in); got != tc.want {
			t.Fatalf("OutputLayout(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNegotiateCaps(t *testing.T) {
	caps := NegotiateCaps(SampleFormatFltP, Layout5_1, 48000)
	if !caps.Valid {
		t.Fatal("Valid=false, want true")
	}
	if caps.Format != SampleFormatFlt || caps.BPS != 32 {
		t.Fatalf("format=%q bps=%d, want flt/32", caps.Format, caps.BPS)
	}
	if caps.Layout != LayoutStereo || caps.Channels != 2 {
		t.Fatalf("layout=%q channels=%d, want stereo/2", caps.Layout, caps.Channels)
	}
	if caps.Rate != 48000 {
		t.Fatalf("rate=%d, want 48000", caps.Rate)
	}
	if caps.Align {
		t.Fatal("Align=true, want false")
	}

	caps = NegotiateCaps(SampleFormatU8, LayoutMono, 8000)
	if caps.BPS != 8 || caps.Channels != 1 {
		t.Fatalf("bps=%d channels=%d, want 8/1", caps.BPS, caps.Channels)
	}
}

func TestLayoutChannels(t *testing.T) {
	cases := map[ChannelLayout]int{
		LayoutMono:               1,
		LayoutStereo:             2,
		Layout5_1:                6,
		Layout7_1:                8,
		LayoutForChannels(7):     7,
		ChannelLayout("garbage"): 0,
		LayoutNone:               0,
	}
	for layout, want := range cases {
		if got := layout.Channels(); got != want {
			t.Fatalf("%q.Channels()=%d, want %d", layout, got, want)
		}
	}
}

func TestPackedAndPlanar(t *testing.T) {
	if !SampleFormatS16P.IsPlanar() {
		t.Fatal("s16p IsPlanar=false, want true")
	}
	if SampleFormatS16.IsPlanar() {
		t.Fatal("s16 IsPlanar=true, want false")
	}
	if got := SampleFormatDblP.Packed(); got != SampleFormatDbl {
		t.Fatalf("dblp.Packed()=%q, want dbl", got)
	}
	if _, err := ParseSampleFormat("nope"); err == nil {
		t.Fatal("ParseSampleFormat(nope) error=nil, want error")
	}
}
