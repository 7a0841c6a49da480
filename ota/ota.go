//go:build tinygo

// Package ota wraps the RP2350 bootrom A/B partition machinery: TBYB
// partition confirmation, flash-update reboots into the inactive
// partition, and the raw flash primitives used to program it.
package ota

/*
#include <stdint.h>
#include <stdbool.h>
#include <stddef.h>

// Bootrom table lookup, per the RP2350 datasheet. The well-known table
// pointer lives at 0x16; codes are two ASCII characters packed little
// endian.
#define ROM_TABLE_CODE(c1, c2) ((c1) | ((c2) << 8))

#define ROM_FUNC_REBOOT                 ROM_TABLE_CODE('R', 'B')
#define ROM_FUNC_EXPLICIT_BUY           ROM_TABLE_CODE('E', 'B')
#define ROM_FUNC_GET_SYS_INFO           ROM_TABLE_CODE('G', 'S')
#define ROM_FUNC_CONNECT_INTERNAL_FLASH ROM_TABLE_CODE('I', 'F')
#define ROM_FUNC_FLASH_EXIT_XIP         ROM_TABLE_CODE('E', 'X')
#define ROM_FUNC_FLASH_RANGE_ERASE      ROM_TABLE_CODE('R', 'E')
#define ROM_FUNC_FLASH_RANGE_PROGRAM    ROM_TABLE_CODE('R', 'P')
#define ROM_FUNC_FLASH_FLUSH_CACHE      ROM_TABLE_CODE('F', 'C')

#define BOOTROM_TABLE_LOOKUP_OFFSET 0x16
#define RT_FLAG_FUNC_ARM_SEC        0x0004

typedef void *(*rom_table_lookup_fn)(uint32_t code, uint32_t mask);

// TinyGo runs the RP2350 in the Secure state; no TrustZone split.
__attribute__((always_inline))
static void *rom_func_lookup(uint32_t code) {
    rom_table_lookup_fn lookup =
        (rom_table_lookup_fn)(uintptr_t)*(uint16_t*)(BOOTROM_TABLE_LOOKUP_OFFSET);
    return lookup(code, RT_FLAG_FUNC_ARM_SEC);
}

// Fixed two-partition layout, matching the partition table flashed at
// provisioning time (verify with `picotool partition info`):
//   PT (8KB) | A: 0x002000..0x1F2000 | B: 0x1F2000..0x3E2000 | reserved
// Flash primitives take raw offsets; the reboot API wants XIP addresses.
#define XIP_BASE           0x10000000
#define PARTITION_A_OFFSET 0x2000
#define PARTITION_B_OFFSET 0x1F2000
#define PARTITION_MAX_SIZE 0x1F0000

#define REBOOT2_FLAG_REBOOT_TYPE_FLASH_UPDATE 0x4
#define REBOOT2_FLAG_NO_RETURN_ON_SUCCESS     0x100

typedef int (*rom_reboot_fn)(uint32_t flags, uint32_t delay_ms, uint32_t p0, uint32_t p1);
typedef int (*rom_explicit_buy_fn)(uint8_t *buffer, uint32_t buffer_size);
typedef int (*rom_get_sys_info_fn)(uint32_t *out, uint32_t out_words, uint32_t flags);

// TBYB confirm. Must run within 16.7s of boot or the bootrom reverts to
// the previous image. Safe when no confirmation is pending.
static int fw_confirm(void) {
    rom_explicit_buy_fn func = (rom_explicit_buy_fn) rom_func_lookup(ROM_FUNC_EXPLICIT_BUY);
    if (!func) return -1;
    uint32_t workarea[64];
    return func((uint8_t*)workarea, sizeof(workarea));
}

static int last_reboot_result = 0;

static uint32_t fw_partition_offset(int partition) {
    return (partition == 0) ? PARTITION_A_OFFSET : PARTITION_B_OFFSET;
}

// FLASH_UPDATE reboot into the given partition. p0 carries the XIP
// address of the update region per datasheet 5.4.8.24. Does not return
// when the ROM accepts the request.
static void fw_reboot_to(int partition) {
    rom_reboot_fn func = (rom_reboot_fn) rom_func_lookup(ROM_FUNC_REBOOT);
    if (!func) { last_reboot_result = -1; return; }

    uint32_t xip_addr = XIP_BASE + fw_partition_offset(partition);
    last_reboot_result = func(
        REBOOT2_FLAG_REBOOT_TYPE_FLASH_UPDATE | REBOOT2_FLAG_NO_RETURN_ON_SUCCESS,
        1000, xip_addr, 0);

    if (last_reboot_result == 0) {
        for (volatile uint32_t i = 0; i < 20000000; i++) { }
        while(1) { __asm__("wfi"); }
    }
}

static int fw_reboot_result(void) {
    return last_reboot_result;
}

// Plain reset through the watchdog TRIGGER bit; more dependable than a
// ROM reboot on this silicon. Datasheet 12.9: WATCHDOG base 0x400d8000.
static void fw_reset(void) {
    *(volatile uint32_t*)(0x400d8000) = (1u << 31);
    while(1) { __asm__("nop"); }
}

// Boot partition discovery through get_sys_info BOOT_INFO. Word 1 is
// 0xttppbbdd; pp is the partition we booted from, 0xFF when booted
// without a partition table.
#define SYS_INFO_BOOT_INFO 0x0040

static int fw_current_partition(void) {
    rom_get_sys_info_fn func = (rom_get_sys_info_fn) rom_func_lookup(ROM_FUNC_GET_SYS_INFO);
    if (!func) return 0;

    uint32_t buffer[5];
    if (func(buffer, 5, SYS_INFO_BOOT_INFO) < 0) return 0;
    if (!(buffer[0] & SYS_INFO_BOOT_INFO)) return 0;

    uint8_t partition = (buffer[1] >> 16) & 0xFF;
    if (partition == 0xFF) return 0;
    return (int)partition;
}

// Raw flash erase/program through the ROM, interrupts masked for the
// duration. Offsets are from flash start; TinyGo's machine.Flash is not
// usable here because it rebases everything past the program image.
#define FLASH_SECTOR_SIZE      4096
#define FLASH_SECTOR_ERASE_CMD 0x20

typedef void (*flash_connect_internal_fn)(void);
typedef void (*flash_exit_xip_fn)(void);
typedef void (*flash_range_erase_fn)(uint32_t addr, size_t count, uint32_t block_size, uint8_t block_cmd);
typedef void (*flash_range_program_fn)(uint32_t addr, const uint8_t *data, size_t count);
typedef void (*flash_flush_cache_fn)(void);

static void fw_flash_op(uint32_t offset, const uint8_t *data, uint32_t len, bool erase) {
    flash_connect_internal_fn connect = (flash_connect_internal_fn)rom_func_lookup(ROM_FUNC_CONNECT_INTERNAL_FLASH);
    flash_exit_xip_fn exit_xip = (flash_exit_xip_fn)rom_func_lookup(ROM_FUNC_FLASH_EXIT_XIP);
    flash_flush_cache_fn flush = (flash_flush_cache_fn)rom_func_lookup(ROM_FUNC_FLASH_FLUSH_CACHE);
    if (!connect || !exit_xip || !flush) return;

    uint32_t status;
    __asm__ volatile ("mrs %0, primask" : "=r" (status));
    __asm__ volatile ("cpsid i");

    connect();
    exit_xip();
    if (erase) {
        flash_range_erase_fn fn = (flash_range_erase_fn)rom_func_lookup(ROM_FUNC_FLASH_RANGE_ERASE);
        if (fn) fn(offset, len, FLASH_SECTOR_SIZE, FLASH_SECTOR_ERASE_CMD);
    } else {
        flash_range_program_fn fn = (flash_range_program_fn)rom_func_lookup(ROM_FUNC_FLASH_RANGE_PROGRAM);
        if (fn) fn(offset, data, len);
    }
    flush();

    __asm__ volatile ("msr primask, %0" : : "r" (status));
}

static void fw_flash_program(uint32_t offset, const uint8_t *data, uint32_t len) {
    fw_flash_op(offset, data, len, false);
}

static void fw_flash_erase(uint32_t offset, uint32_t count) {
    fw_flash_op(offset, NULL, count, true);
}

static uint32_t fw_partition_max_size(void) {
    return PARTITION_MAX_SIZE;
}
*/
import "C"

import (
	"unsafe"
)

const (
	PartitionA = 0
	PartitionB = 1

	SectorSize = 4096 // erase granularity
	PageSize   = 256  // program granularity

	xipBase = 0x10000000
)

// shutdownHook runs before any reboot to quiesce the radio
var shutdownHook func()

// SetShutdownHook registers a function run before every reboot, in the
// spirit of the Pico SDK's cyw43_arch_deinit.
func SetShutdownHook(fn func()) {
	shutdownHook = fn
}

// Confirm performs the TBYB explicit-buy and returns the raw ROM code:
// 0 on success, negative on failure. Call it first thing after boot;
// past 16.7s the bootrom reverts to the previous image on its own.
func Confirm() int {
	return int(C.fw_confirm())
}

// CurrentPartition returns the partition this image booted from.
func CurrentPartition() int {
	return int(C.fw_current_partition())
}

// TargetPartition returns the inactive partition, the one updates are
// written into.
func TargetPartition() int {
	if CurrentPartition() == PartitionA {
		return PartitionB
	}
	return PartitionA
}

// PartitionOffset returns the raw flash offset of a partition.
func PartitionOffset(partition int) uint32 {
	return uint32(C.fw_partition_offset(C.int(partition)))
}

// PartitionXIPAddr returns the memory-mapped address of a partition.
func PartitionXIPAddr(partition int) uint32 {
	return xipBase + PartitionOffset(partition)
}

// PartitionMaxSize returns the byte capacity of one partition.
func PartitionMaxSize() uint32 {
	return uint32(C.fw_partition_max_size())
}

// RebootToPartition reboots into the given partition via the bootrom's
// FLASH_UPDATE path, arming TBYB for the new image. Runs the shutdown
// hook first. Does not return on success; on failure the ROM code is
// available through RebootResult.
func RebootToPartition(partition int) {
	if shutdownHook != nil {
		shutdownHook()
	}
	C.fw_reboot_to(C.int(partition))
}

// RebootResult returns the ROM code of the last reboot attempt.
func RebootResult() int {
	return int(C.fw_reboot_result())
}

// Reboot performs a plain watchdog reset. Does not return.
func Reboot() {
	if shutdownHook != nil {
		shutdownHook()
	}
	C.fw_reset()
}

// EraseSector erases the 4KB sector at the given raw flash offset.
func EraseSector(offset uint32) error {
	C.fw_flash_erase(C.uint32_t(offset), C.uint32_t(SectorSize))
	return nil
}

// WriteChunk programs data at the given raw flash offset. The offset
// must be page-aligned and len(data) a multiple of PageSize.
func WriteChunk(offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	C.fw_flash_program(C.uint32_t(offset), (*C.uint8_t)(&data[0]), C.uint32_t(len(data)))
	return nil
}

// ReadChunk copies flash contents at the given raw offset into buf.
// Reads go through the XIP window, no ROM call needed.
func ReadChunk(offset uint32, buf []byte) {
	src := unsafe.Pointer(uintptr(xipBase) + uintptr(offset))
	for i := range buf {
		buf[i] = *(*byte)(unsafe.Add(src, i))
	}
}
