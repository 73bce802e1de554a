package postgres

import "testing"

func TestLikePrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"music/a/", "music/a/%"},
		{"", "%"},
		{"50%_off\\dir/", "50\\%\\_off\\\\dir/%"},
	}
	for _, c := range cases {
		if got := likePrefix(c.in); got != c.want {
			t.Errorf("likePrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
