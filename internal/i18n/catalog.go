// Package i18n holds the wizard's user-facing copy. English source strings are
// the message keys; other languages register translations against them.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the locales the catalog carries, default first.
var Supported = []language.Tag{language.English, language.Indonesian}

var indonesian = map[string]string{
	"Virtual Try-On Studio":                                      "Studio Coba Virtual",
	"Powered by Gemini API":                                      "Didukung oleh Gemini API",
	"Upload Fashion Product":                                     "Unggah Produk Fesyen",
	"PNG, JPG, or WEBP files.":                                   "Berkas PNG, JPG, atau WEBP.",
	"Upload Model":                                               "Unggah Model",
	"A clear, front-facing photo works best.":                    "Foto yang jelas dan menghadap ke depan paling baik.",
	"Step 1: Upload Product Image":                               "Langkah 1: Unggah Gambar Produk",
	"Select a photo of the clothing item you want to try on.":    "Pilih foto pakaian yang ingin Anda coba.",
	"Step 2: Upload Model Image":                                 "Langkah 2: Unggah Gambar Model",
	"Now, provide a photo of the person who will wear the item.": "Sekarang, berikan foto orang yang akan mengenakan pakaian tersebut.",
	"Working our magic...":                                       "Sedang memproses...",
	"Generating your virtual try-on. This may take a moment.":    "Membuat hasil coba virtual Anda. Mohon tunggu sebentar.",
	"Here's Your Virtual Try-On!":                                "Ini Hasil Coba Virtual Anda!",
	"The AI has combined the images.":                            "AI telah menggabungkan kedua gambar.",
	"Next: Upload Model":                                         "Berikutnya: Unggah Model",
	"Back":                                                       "Kembali",
	"Generate Try-On":                                            "Buat Coba Virtual",
	"Start Over":                                                 "Mulai Ulang",
	"Choose file":                                                "Pilih berkas",
	"Upload":                                                     "Unggah",
	"Refresh":                                                    "Muat ulang",
	"Preview":                                                    "Pratinjau",
	"Product":                                                    "Produk",
	"Generated try-on":                                           "Hasil coba virtual",
	"Both product and model images are required.":                "Gambar produk dan model wajib diisi.",
	"An unknown error occurred.":                                 "Terjadi kesalahan yang tidak diketahui.",
	"Only PNG, JPG, or WEBP images are accepted.":                "Hanya gambar PNG, JPG, atau WEBP yang diterima.",
	"The file could not be read.":                                "Berkas tidak dapat dibaca.",
	"The file is too large.":                                     "Ukuran berkas terlalu besar.",
	"Too many try-on requests. Please wait a moment and try again.": "Terlalu banyak permintaan coba virtual. Mohon tunggu sebentar lalu coba lagi.",
}

// Catalog resolves locales and translates wizard copy.
type Catalog struct {
	matcher language.Matcher
	cat     catalog.Catalog
	def     language.Tag
}

// New builds the catalog. defaultLocale is used when nothing else matches.
func New(defaultLocale string) *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range indonesian {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Indonesian, key, msg)
	}
	def := language.English
	if tag, err := language.Parse(strings.TrimSpace(defaultLocale)); err == nil {
		def = matchTag(language.NewMatcher(Supported), tag)
	}
	return &Catalog{
		matcher: language.NewMatcher(Supported),
		cat:     b,
		def:     def,
	}
}

// Match returns the best supported locale for the given preferences, which
// may be plain tags or Accept-Language values.
func (c *Catalog) Match(prefs ...string) language.Tag {
	var tags []language.Tag
	for _, p := range prefs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return c.def
	}
	return matchTag(c.matcher, tags...)
}

// Translator returns a lookup function bound to locale. Unknown keys, such
// as provider error text, come back unchanged.
func (c *Catalog) Translator(locale string) func(string) string {
	tag := c.Match(locale)
	p := message.NewPrinter(tag, message.Catalog(c.cat))
	return func(key string) string {
		if _, ok := indonesian[key]; !ok {
			return key
		}
		return p.Sprintf(key)
	}
}

// T translates a single key.
func (c *Catalog) T(locale, key string) string {
	return c.Translator(locale)(key)
}

func matchTag(m language.Matcher, tags ...language.Tag) language.Tag {
	_, idx, conf := m.Match(tags...)
	if conf == language.No {
		return Supported[0]
	}
	return Supported[idx]
}
