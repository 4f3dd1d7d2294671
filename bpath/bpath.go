// Package bpath implements path canonicalization and component splitting
// shared by the VFS and the filesystem backends.
//
// The call sites this package serves (fd.Cwd_t.Canonicalpath,
// fd.Cwd_t.Fullpath) only ship in the retrieval pack as references to an
// empty bpath package; this file is new, grounded on those call sites.
package bpath

import "ustr"

// Split breaks path into its '/'-separated components, dropping empty
// components produced by repeated slashes.
func Split(path ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				comps = append(comps, path[start:i])
			}
			start = i + 1
		}
	}
	return comps
}

// Canonicalize resolves "." and ".." components of an absolute path and
// returns a clean absolute path ("/" for the root).
func Canonicalize(path ustr.Ustr) ustr.Ustr {
	comps := Split(path)
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range out {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

// Join joins an absolute directory path with a possibly-relative path,
// returning a canonicalized absolute path.
func Join(dir, p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return Canonicalize(p)
	}
	full := append(append(ustr.Ustr{}, dir...), '/')
	full = append(full, p...)
	return Canonicalize(full)
}
