package kenwood

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/gorig/pkg/property"
)

const (
	MenuItems = 62
	menuBase  = "menu_item"
)

func menuName(n int) string {
	return fmt.Sprintf("%s[%03d]", menuBase, n)
}

// menuCommand is the EX selector for item n: menu number, sub item and two
// reserved digits.
func menuCommand(n int) string {
	return fmt.Sprintf("EX%03d0000", n)
}

// menuItems registers the extended menu. Items are read on demand and their
// values are kept as the raw text the transceiver reports, since the field
// format differs from item to item.
func menuItems(t *table) {
	d := t.d
	for n := 1; n <= MenuItems; n++ {
		n := n
		t.custom(menuName(n),
			property.Query(menuCommand(n)+";"),
			property.Format(func(v any) (string, error) { return menuCommand(n) + v.(string) + ";", nil }),
			property.Range(isMenuValue),
			property.Lazy(),
		)
		d.codes[menuName(n)] = "EX"
	}
	t.on("EX", func(_ context.Context, fields string) {
		if len(fields) < 7 {
			d.desync("EX", fields, fmt.Errorf("short menu reply"))
			return
		}
		n, err := strconv.Atoi(fields[:3])
		if err != nil || n < 1 || n > MenuItems {
			d.desync("EX", fields, fmt.Errorf("bad menu number %q", fields[:3]))
			return
		}
		p := d.reg.Get(menuName(n))
		if p == nil {
			return
		}
		if v := strings.TrimSpace(fields[7:]); v != "" {
			p.Update(v)
			return
		}
		p.Update(nil)
	})
}

func isMenuValue(v any) bool {
	s, ok := v.(string)
	return ok && s != "" && len(s) <= 16 && !strings.ContainsAny(s, ";\r\n")
}
