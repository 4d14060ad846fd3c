package downloadcfg

import (
    "os"
    "strings"
)

// AddOptions carries downloader-agnostic options for adding a torrent.
// Each backend encodes them its own way; zero values mean "client default".
type AddOptions struct {
    SavePath string
    Category string
    Tags     []string
}

// FromEnv reads defaults applied to every dispatched torrent.
// Recognized envs: DOWNLOAD_SAVE_PATH, DOWNLOAD_CATEGORY, DOWNLOAD_TAGS (comma separated).
func FromEnv() AddOptions {
    return AddOptions{
        SavePath: strings.TrimSpace(os.Getenv("DOWNLOAD_SAVE_PATH")),
        Category: strings.TrimSpace(os.Getenv("DOWNLOAD_CATEGORY")),
        Tags:     ParseTags(os.Getenv("DOWNLOAD_TAGS")),
    }
}

// ParseTags splits a comma separated list, dropping blanks.
func ParseTags(s string) []string {
    var out []string
    for _, t := range strings.Split(s, ",") {
        if t = strings.TrimSpace(t); t != "" {
            out = append(out, t)
        }
    }
    return out
}

// Merge returns o with empty fields filled from def.
func (o AddOptions) Merge(def AddOptions) AddOptions {
    if o.SavePath == "" {
        o.SavePath = def.SavePath
    }
    if o.Category == "" {
        o.Category = def.Category
    }
    if len(o.Tags) == 0 && len(def.Tags) > 0 {
        o.Tags = append([]string(nil), def.Tags...)
    }
    return o
}
