package bolt

import (
	"testing"

	bulktesting "github.com/ValentinKolb/tkv/lib/bulk/testing"
)

func TestDriver(t *testing.T) {
	bulktesting.RunDriverTests(t, New())
}
