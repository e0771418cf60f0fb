package classifier

import "golang.org/x/sys/unix"

// CacheForget advises the kernel page cache to drop pages for the given
// fd range. This is the actual syscall behind the CACHE_FORGET hint;
// failures are deliberately swallowed — it is advisory, and a transport
// that can't honor it should not fail the read it's attached to.
func CacheForget(fd int, offset, length int64) {
	_ = unix.Fadvise(fd, offset, length, unix.FADV_DONTNEED)
}
