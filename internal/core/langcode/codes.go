package langcode

// legacy holds codes that older corpus releases emitted and their current tags
var legacy = map[string]string{
	"iw":  "he",      // Hebrew
	"in":  "id",      // Indonesian
	"ji":  "yi",      // Yiddish
	"jw":  "jv",      // Javanese
	"mo":  "ro",      // Moldavian
	"als": "gsw",     // Alemannic as used by wikipedia dumps
	"bh":  "bho",     // Bihari collection, Bhojpuri in practice
	"eml": "egl",     // Emiliano-Romagnolo, retired subtag
	"sh":  "sr-Latn", // Serbo-Croatian

	// wikipedia style labels
	"zh-classical": "lzh",
	"zh-yue":       "yue",
	"zh-min-nan":   "nan",
	"be-x-old":     "be-tarask",
}

// current holds codes already valid as BCP-47 tags that map to themselves
var current = []string{
	"af", "am", "an", "ar", "arz", "as", "ast", "av", "az", "azb",
	"ba", "bar", "bcl", "be", "bg", "bn", "bo", "bpy", "br", "bs", "bxr",
	"ca", "cbk", "ce", "ceb", "ckb", "cs", "cv", "cy",
	"da", "de", "diq", "dsb", "dv",
	"el", "en", "eo", "es", "et", "eu",
	"fa", "fi", "fr", "frr", "fy",
	"ga", "gd", "gl", "gn", "gom", "gu", "gv",
	"he", "hi", "hr", "hsb", "ht", "hu", "hy",
	"ia", "id", "ie", "ilo", "io", "is", "it",
	"ja", "jbo", "jv",
	"ka", "kk", "km", "kn", "ko", "krc", "ku", "kv", "kw", "ky",
	"la", "lb", "lez", "li", "lmo", "lo", "lrc", "lt", "lv",
	"mai", "mg", "mhr", "min", "mk", "ml", "mn", "mr", "mrj", "ms", "mt", "mwl", "my", "myv", "mzn",
	"nah", "nap", "nds", "ne", "new", "nl", "nn", "no",
	"oc", "or", "os",
	"pa", "pam", "pl", "pms", "pnb", "ps", "pt",
	"qu",
	"rm", "ro", "ru", "rue",
	"sa", "sah", "scn", "sco", "sd", "si", "sk", "sl", "so", "sq", "sr", "su", "sv", "sw",
	"ta", "te", "tg", "th", "tk", "tl", "tr", "tt", "tyv",
	"ug", "uk", "ur", "uz",
	"vec", "vi", "vls", "vo",
	"wa", "war", "wuu",
	"xal", "xmf",
	"yi", "yo", "yue",
	"zh",
}
