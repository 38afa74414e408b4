package imaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/raptorhab/internal/fsutil"
	"github.com/banshee-data/raptorhab/internal/protocol"
)

func TestArchive_Save(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	a := NewArchive(mfs, "/data/images")

	files, err := a.Files("flight-1")
	require.NoError(t, err)
	assert.Empty(t, files)

	img := &Image{
		ID:        7,
		Meta:      protocol.ImageMeta{ImageID: 7, TotalSize: 4},
		Data:      []byte("RIFF"),
		Completed: time.Unix(1782032400, 0),
	}
	path, err := a.Save("../flight 1", img)
	require.NoError(t, err)
	assert.Equal(t, "/data/images/flight_1/image_7_1782032400.webp", path)

	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, img.Data, data)

	files, err = a.Files("../flight 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"image_7_1782032400.webp"}, files)
}
