package safego

import (
	"sync"

	"github.com/caiflower/chunky/pkg/e"
	golocalv1 "github.com/caiflower/chunky/pkg/golocal/v1"
)

func Go(fn func()) {
	local := &sync.Map{}
	golocalv1.GetLocalMap().Range(func(k, v interface{}) bool {
		local.Store(k, v)
		return true
	})
	go func() {
		golocalv1.PutLocalMap(local)
		defer golocalv1.Clean()
		defer e.OnError("safeGo")

		fn()
	}()
}
