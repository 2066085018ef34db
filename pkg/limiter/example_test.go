package limiter

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"
)

func ExampleEngine() {
	rules, _ := NewRuleTable([]Rule{
		{Pattern: "default", Requests: 100, Window: time.Minute},
		{Pattern: "/api/auth/login", Requests: 5, Window: 15 * time.Minute},
	})

	// No shared store wired: the engine evaluates locally.
	eng := NewEngine(rules)

	r := httptest.NewRequest("POST", "/api/auth/login", nil)
	r.RemoteAddr = "192.0.2.1:5000"

	res := eng.Check(context.Background(), r)
	fmt.Println(res.Allowed, res.Limit, res.Remaining)
	// Output:
	// true 5 4
}
