package telemetry

import (
	"context"
	"sync"
	"testing"
)

var setupTestEnvironments sync.Map

// sets up telemetry in a testing environment, ensuring that it isn't
// set up more than once per service name
func SetupForTesting(t testing.TB, serviceName string) func() {
	_, setupAlready := setupTestEnvironments.LoadOrStore(serviceName, struct{}{})
	if setupAlready {
		return func() {}
	}
	InitSlog(true)
	tel, err := SetupFromEnv(context.Background(), serviceName)
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := tel.Shutdown(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}
