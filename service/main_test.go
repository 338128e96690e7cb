package service

import (
	"os"
	"testing"

	"github.com/miguelbtcode/techmart-backend-sub002/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}
