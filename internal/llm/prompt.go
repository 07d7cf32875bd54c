package llm

import (
	"strconv"
	"strings"
)

// DefaultStyle is used when a request carries no style instruction.
const DefaultStyle = "Akademik, bilimsel ve profesyonel"

// GenericSectionTitle labels content that belongs to no known field.
const GenericSectionTitle = "Generic Content"

// PromptContext describes where a piece of text lives in the form.
type PromptContext struct {
	ProjectTitle string
	SectionTitle string
	Style        string
	MinWords     int
	MaxWords     int
}

func (pc PromptContext) style() string {
	if strings.TrimSpace(pc.Style) == "" {
		return DefaultStyle
	}
	return pc.Style
}

func limitText(n int) string {
	if n > 0 {
		return strconv.Itoa(n)
	}
	return "Belirtilmemiş"
}

func writeContext(b *strings.Builder, pc PromptContext) {
	b.WriteString("**CONTEXT:**\n")
	b.WriteString("- Proje Başlığı: " + pc.ProjectTitle + "\n")
	b.WriteString("- Bölüm: " + pc.SectionTitle + "\n")
	b.WriteString("- Stil: " + pc.style() + "\n")
	b.WriteString("- Min Kelime: " + limitText(pc.MinWords) + "\n")
	b.WriteString("- Max Kelime: " + limitText(pc.MaxWords) + "\n\n")
}

// BuildGeneratePrompt asks the model to turn a draft into academic prose.
func BuildGeneratePrompt(draft string, pc PromptContext, additional string) string {
	var b strings.Builder
	b.WriteString("Sen akademik metin yazma konusunda uzman bir asistansın. ")
	b.WriteString("Kullanıcının taslak metnini akademik, bilimsel ve profesyonel bir dile dönüştür.\n\n")
	writeContext(&b, pc)
	b.WriteString("**TASK:**\nAşağıdaki taslak metni akademik dile çevir, geliştir ve iyileştir:\n\n")
	b.WriteString(draft)
	b.WriteString("\n\n")
	if additional != "" {
		b.WriteString("\n**EK TALİMATLAR:**\n" + additional + "\n")
	}
	b.WriteString(`
**ÖNEMLİ KURALLAR:**
1. Metni Türkçe yaz (eğer taslak Türkçeyse)
2. Akademik, bilimsel ve profesyonel bir dil kullan
3. Gereksiz tekrarlardan kaçın
4. Net, anlaşılır ve akıcı yaz
5. Kelime sayısı limitlerini dikkate al
6. Sadece metni döndür, açıklama veya başlık ekleme
`)
	return b.String()
}

// BuildRevisePrompt asks the model to apply a revision instruction to text.
func BuildRevisePrompt(current, instruction string, pc PromptContext) string {
	var b strings.Builder
	b.WriteString("Sen akademik metin yazma konusunda uzman bir asistansın. ")
	b.WriteString("Kullanıcı tarafından verilen talimatlar doğrultusunda metni revize et.\n\n")
	writeContext(&b, pc)
	b.WriteString("**MEVCUT METİN:**\n" + current + "\n\n")
	b.WriteString("**REVİZYON TALİMATI:**\n" + instruction + "\n")
	b.WriteString(`
**ÖNEMLİ KURALLAR:**
1. Sadece istenen değişiklikleri yap
2. Metni Türkçe yaz (eğer orijinal Türkçeyse)
3. Akademik, bilimsel ve profesyonel bir dil kullan
4. Kelime sayısı limitlerini dikkate al
5. Sadece metni döndür, açıklama veya başlık ekleme
`)
	return b.String()
}

// Field types accepted by the generic AI endpoints.
const (
	FieldTypeImportance = "scientific_merit_1_1"
	FieldTypeAims       = "scientific_merit_1_2"
	FieldTypeWideImpact = "wide_impact"
)

// SectionTitleFor maps a generic field type to the title used in prompts.
func SectionTitleFor(fieldType, category string) string {
	switch fieldType {
	case FieldTypeImportance:
		return "Konunun Önemi ve Araştırma Önerisinin Bilimsel Niteliği"
	case FieldTypeAims:
		return "Amaç ve Hedefler"
	case FieldTypeWideImpact:
		return "Yaygın Etki - " + category
	default:
		return GenericSectionTitle
	}
}
