package orchestratormock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/splinter-dev/splinter/orchestrator"
)

func TestMockFactoryDrivesRegistryLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := NewMockFactory(ctrl)

	def := orchestrator.Definition{CircuitID: "01234-ABCDE", ServiceID: "0123", ServiceType: "type_a"}
	factory.EXPECT().Start(def, nil).Return(nil)
	factory.EXPECT().Stop(def).Return(nil)
	factory.EXPECT().PurgeState(def).Return(nil)

	reg := orchestrator.NewRegistry()
	reg.Register("type_a", factory)

	require.NoError(t, reg.InitializeService(def, nil))
	require.NoError(t, reg.PurgeService(def))
}

func TestMockFactoryPropagatesStartError(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := NewMockFactory(ctrl)

	def := orchestrator.Definition{CircuitID: "01234-ABCDE", ServiceID: "0123", ServiceType: "type_a"}
	wantErr := errors.New("boom")
	factory.EXPECT().Start(def, nil).Return(wantErr)

	reg := orchestrator.NewRegistry()
	reg.Register("type_a", factory)

	err := reg.InitializeService(def, nil)
	require.ErrorIs(t, err, wantErr)
}
