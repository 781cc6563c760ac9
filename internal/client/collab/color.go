package collab

import "hash/fnv"

// Palette - цвета участников редактирования
var Palette = [8]string{
	"#EF4444",
	"#F59E0B",
	"#10B981",
	"#3B82F6",
	"#8B5CF6",
	"#EC4899",
	"#14B8A6",
	"#F97316",
}

// ColorFor - стабильный цвет по userID (FNV-1a)
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))

	return Palette[h.Sum32()%uint32(len(Palette))]
}
