package marker

import "strings"

// RegistryLang is the pseudo language code that addresses the identity
// registry directly: the source title is then an identity id such as Q42.
const RegistryLang = "d"

var wikiLangs = []string{
	"en", "sv", "nl", "de", "fr", "war", "ru", "ceb", "it", "es", "vi", "pl", "ja", "pt", "zh", "uk",
	"ca", "fa", "no", "sh", "fi", "ar", "id", "ro", "cs", "sr", "ko", "hu", "ms", "tr", "min", "eo",
	"kk", "eu", "sk", "da", "bg", "he", "lt", "hy", "hr", "sl", "et", "uz", "gl", "nn", "vo", "la",
	"simple", "el", "hi", "az", "ka", "th", "ce", "oc", "be", "mk", "mg", "new", "ur", "ta", "tt",
	"pms", "cy", "tl", "bs", "lv", "te", "be-x-old", "br", "ht", "sq", "jv", "lb", "mr", "is", "ml",
	"zh-yue", "bn", "af", "ga", "ba", "pnb", "cv", "tg", "fy", "lmo", "sco", "my", "yo", "an", "ky",
	"sw", "ne", "io", "gu", "scn", "bpy", "nds", "ku", "ast", "qu", "als", "su", "pa", "kn", "ckb",
	"mn", "ia", "nap", "bug", "bat-smg", "arz", "wa", "zh-min-nan", "am", "gd", "map-bms", "yi",
	"mzn", "si", "fo", "bar", "nah", "vec", "sah", "os", "sa", "mrj", "li", "roa-tara", "hsb", "or",
	"pam", "mhr", "se", "mi", "ilo", "bcl", "hif", "gan", "ps", "rue", "glk", "nds-nl", "bo", "vls",
	"diq", "bh", "fiu-vro", "xmf", "tk", "gv", "sc", "co", "csb", "km", "hak", "vep", "kv", "zea",
	"crh", "frr", "zh-classical", "eml", "ay", "wuu", "udm", "stq", "nrm", "kw", "rm", "so", "szl",
	"koi", "as", "lad", "fur", "mt", "gn", "dv", "ie", "dsb", "pcd", "sd", "lij", "cbk-zam", "cdo",
	"ksh", "ext", "mwl", "gag", "ang", "ug", "ace", "pi", "pag", "lez", "nv", "frp", "sn", "kab",
	"myv", "ln", "pfl", "xal", "krc", "haw", "rw", "kaa", "pdc", "to", "kl", "arc", "nov", "kbd",
	"av", "bxr", "lo", "bjn", "ha", "tet", "tpi", "pap", "na", "lbe", "jbo", "ty", "mdf", "tyv",
	"roa-rup", "wo", "ig", "srn", "nso", "kg", "ab", "ltg", "zu", "om", "chy", "za", "cu", "rmy",
	"tw", "mai", "tn", "chr", "pih", "xh", "bi", "got", "sm", "ss", "mo", "rn", "ki", "pnt", "bm",
	"iu", "ee", "lg", "ak", "ts", "fj", "ik", "st", "sg", "ks", "ff", "dz", "ny", "ch", "ti", "ve",
	"tum", "cr", "ng", "cho", "kj", "mh", "ho", "ii", "aa", "mus", "hz", "kr",
}

var supportedLangs = func() map[string]struct{} {
	ret := make(map[string]struct{}, len(wikiLangs)+1)
	for _, code := range wikiLangs {
		ret[code] = struct{}{}
	}
	ret[RegistryLang] = struct{}{}
	return ret
}()

// langTypos maps codes editors commonly write by mistake to the intended edition.
var langTypos = map[string]string{
	"ua":        "uk",
	"ukr":       "uk",
	"eng":       "en",
	"cz":        "cs",
	"dk":        "da",
	"gr":        "el",
	"jp":        "ja",
	"kz":        "kk",
	"by":        "be",
	"rus":       "ru",
	"ge":        "ka",
	"be-tarask": "be-x-old",
	"wikidata":  RegistryLang,
}

// FixLang lower-cases a language code and remaps known typos.
func FixLang(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if fixed, ok := langTypos[code]; ok {
		return fixed
	}
	return code
}

// SupportedLang reports whether code names a language edition (or the registry).
func SupportedLang(code string) bool {
	_, ok := supportedLangs[code]
	return ok
}
