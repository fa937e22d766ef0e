package aliyun_test

import (
	"testing"

	"github.com/jmerrifield20/certledger/internal/dnspublish/aliyun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_requiresCredentials(t *testing.T) {
	_, err := aliyun.New(aliyun.Config{AccessKeyID: "id"}, zap.NewNop())
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	p, err := aliyun.New(aliyun.Config{AccessKeyID: "id", AccessKeySecret: "secret", Region: "cn-shanghai"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "aliyun", p.Name())
}
