package preprocess

import (
	"image"
	"image/color"
	"testing"
)

func testSubjectOptions() SubjectOptions {
	return DefaultOptions().Subject
}

func TestOtsuThreshold_Bimodal(t *testing.T) {
	gray := make([]uint8, 0, 200)
	for range 100 {
		gray = append(gray, 40)
	}
	for range 100 {
		gray = append(gray, 200)
	}

	th := otsuThreshold(gray)
	if th < 40 || th >= 200 {
		t.Errorf("otsuThreshold() = %d; want value in [40, 200)", th)
	}
}

func TestFindRegions(t *testing.T) {
	// Two blobs; the diagonal pair belongs to the first one (8-connectivity).
	const w, h = 6, 4
	rows := []string{
		"XX....",
		"..X...",
		"....XX",
		"....XX",
	}
	mask := make([]bool, w*h)
	for y, row := range rows {
		for x, c := range row {
			mask[y*w+x] = c == 'X'
		}
	}

	regions := findRegions(mask, w, h)
	if len(regions) != 2 {
		t.Fatalf("len(regions) = %d; want 2", len(regions))
	}

	want := []Region{
		{Bounds: image.Rect(0, 0, 3, 2), Area: 3},
		{Bounds: image.Rect(4, 2, 6, 4), Area: 4},
	}
	for i, r := range regions {
		if r != want[i] {
			t.Errorf("regions[%d] = %+v; want %+v", i, r, want[i])
		}
	}
}

func TestSelectSubject(t *testing.T) {
	opts := testSubjectOptions()
	const w, h = 100, 100

	tests := []struct {
		name    string
		regions []Region
		wantOK  bool
		want    image.Rectangle
	}{
		{
			name:    "largest centered region wins",
			regions: []Region{{image.Rect(30, 10, 70, 90), 2000}, {image.Rect(40, 40, 60, 60), 400}},
			wantOK:  true,
			want:    image.Rect(30, 10, 70, 90),
		},
		{
			name:    "off-center region rejected",
			regions: []Region{{image.Rect(0, 0, 30, 100), 3000}},
			wantOK:  false,
		},
		{
			name:    "too small region rejected",
			regions: []Region{{image.Rect(45, 45, 55, 55), 100}},
			wantOK:  false,
		},
		{
			name:    "off-center larger region skipped for centered one",
			regions: []Region{{image.Rect(80, 0, 100, 100), 2000}, {image.Rect(40, 20, 60, 80), 1000}},
			wantOK:  true,
			want:    image.Rect(40, 20, 60, 80),
		},
		{
			name:   "no regions",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := selectSubject(tc.regions, w, h, opts)
			if ok != tc.wantOK {
				t.Fatalf("selectSubject() ok = %v; want %v", ok, tc.wantOK)
			}
			if ok && got.Bounds != tc.want {
				t.Errorf("selectSubject() bounds = %v; want %v", got.Bounds, tc.want)
			}
		})
	}
}

func TestDetectSubject(t *testing.T) {
	opts := testSubjectOptions()

	t.Run("centered subject padded", func(t *testing.T) {
		src := createSubjectImage(200, 200, image.Rect(60, 40, 140, 180))
		rect, ok := detectSubject(src, opts)
		if !ok {
			t.Fatal("expected subject to be detected")
		}
		// 5% of 80 = 4, 5% of 140 = 7
		want := image.Rect(56, 33, 144, 187)
		if rect != want {
			t.Errorf("detectSubject() = %v; want %v", rect, want)
		}
	})

	t.Run("padding clipped to image", func(t *testing.T) {
		src := createSubjectImage(100, 100, image.Rect(20, 0, 80, 100))
		rect, ok := detectSubject(src, opts)
		if !ok {
			t.Fatal("expected subject to be detected")
		}
		if rect != image.Rect(17, 0, 83, 100) {
			t.Errorf("detectSubject() = %v; want %v", rect, image.Rect(17, 0, 83, 100))
		}
	})

	t.Run("uniform image falls back", func(t *testing.T) {
		src := createTestImage(100, 100, color.Black)
		if _, ok := detectSubject(src, opts); ok {
			t.Error("expected fallback for a uniform image")
		}
	})

	t.Run("off-center subject falls back", func(t *testing.T) {
		src := createSubjectImage(200, 200, image.Rect(0, 0, 50, 200))
		if _, ok := detectSubject(src, opts); ok {
			t.Error("expected fallback for an off-center subject")
		}
	})

	t.Run("crop below minimum dimension falls back", func(t *testing.T) {
		src := createSubjectImage(100, 100, image.Rect(30, 20, 70, 80))
		if _, ok := detectSubject(src, opts); ok {
			t.Error("expected fallback when the padded crop is narrower than the minimum")
		}
	})
}

func TestCropSubject(t *testing.T) {
	src := createSubjectImage(200, 200, image.Rect(60, 40, 140, 180))
	dst, cropped := cropSubject(src, testSubjectOptions())
	if !cropped {
		t.Fatal("expected crop")
	}
	if dst.Bounds() != image.Rect(0, 0, 88, 154) {
		t.Errorf("cropped bounds = %v; want 88x154", dst.Bounds())
	}

	black := createTestImage(80, 80, color.Black)
	same, cropped := cropSubject(black, testSubjectOptions())
	if cropped || same != black {
		t.Error("expected pass-through for an image without a subject")
	}
}
