package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostProcess(t *testing.T) {
	assert.Equal(t, "bir iki üç", PostProcess("  bir\n\n  iki\tüç  "))
	assert.Equal(t, "Başlık kalın metin", PostProcess("## Başlık **kalın** __metin__"))
	assert.Equal(t, "", PostProcess("   "))
}

func TestCheckWordLimit(t *testing.T) {
	short := CheckWordLimit("bir iki", 3, 0)
	assert.False(t, short.Valid)
	assert.Equal(t, 2, short.WordCount)
	assert.Equal(t, "Metin çok kısa. En az 3 kelime olmalı (şu an: 2)", short.Message)

	long := CheckWordLimit("bir iki üç dört", 0, 3)
	assert.False(t, long.Valid)
	assert.Equal(t, "Metin çok uzun. En fazla 3 kelime olmalı (şu an: 4)", long.Message)

	ok := CheckWordLimit("bir iki üç", 3, 3)
	assert.True(t, ok.Valid)
	assert.Equal(t, "OK", ok.Message)

	assert.True(t, CheckWordLimit("", 0, 0).Valid)
}
